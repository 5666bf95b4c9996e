package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docstore-backend/internal/documents"
	"docstore-backend/internal/shared/storage/db"
)

// PGStore implements Store using Postgres.
type PGStore struct {
	DB *sql.DB
}

const jobColumns = `id, owner_id, original_filename, size_bytes, is_public, document_type, status,
       result, error_message, started_at, ended_at, updated_at`

func (s *PGStore) Create(ctx context.Context, job Job) error {
	const query = `
INSERT INTO ingestion_jobs (
    id, owner_id, original_filename, size_bytes, is_public, document_type, status, started_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	_, err := s.DB.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.OriginalFilename,
		job.SizeBytes,
		job.IsPublic,
		job.DocumentType,
		string(job.Status),
		job.StartedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, jobID string) (Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM ingestion_jobs
WHERE id = $1`
	return scanJob(s.DB.QueryRowContext(ctx, query, jobID))
}

func (s *PGStore) Complete(ctx context.Context, jobID string, result documents.View, endedAt time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	const query = `
UPDATE ingestion_jobs
SET status = 'completed', result = $2, ended_at = $3, updated_at = $3
WHERE id = $1 AND status = 'processing'`
	return s.transition(ctx, jobID, query, jobID, payload, endedAt)
}

func (s *PGStore) Fail(ctx context.Context, jobID, message string, endedAt time.Time) error {
	const query = `
UPDATE ingestion_jobs
SET status = 'failed', error_message = $2, ended_at = $3, updated_at = $3
WHERE id = $1 AND status = 'processing'`
	return s.transition(ctx, jobID, query, jobID, message, endedAt)
}

// transition applies a conditional terminal update. When it matches nothing
// the status is read in the same transaction to tell a missing job from a
// terminal one.
func (s *PGStore) transition(ctx context.Context, jobID, query string, args ...any) error {
	return db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM ingestion_jobs WHERE id = $1`, jobID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrAlreadyTerminal
	})
}

func (s *PGStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
DELETE FROM ingestion_jobs
WHERE status IN ('completed', 'failed') AND ended_at < $1`
	res, err := s.DB.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) ListStuck(ctx context.Context, startedBefore time.Time) ([]Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM ingestion_jobs
WHERE status = 'processing' AND started_at < $1
ORDER BY started_at ASC`
	rows, err := s.DB.QueryContext(ctx, query, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var status string
	var result []byte
	var errorMessage sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.OriginalFilename,
		&job.SizeBytes,
		&job.IsPublic,
		&job.DocumentType,
		&status,
		&result,
		&errorMessage,
		&job.StartedAt,
		&endedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	job.Status = Status(status)
	if len(result) > 0 {
		var view documents.View
		if err := json.Unmarshal(result, &view); err != nil {
			return Job{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &view
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if endedAt.Valid {
		job.EndedAt = &endedAt.Time
	}
	return job, nil
}

var _ Store = (*PGStore)(nil)
