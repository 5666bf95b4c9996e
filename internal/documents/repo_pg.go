package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGRepo implements Registry using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const uniqueViolation = "23505"

const documentColumns = `id, content_hash, display_name, original_filename, size_bytes, media_type, extension,
    storage_key, owner_id, is_public, permissions, document_type, status, error_message,
    extracted_text_key, vector_id, indexed_at, created_at, updated_at, processed_at, is_deleted`

// Create inserts a new document. A unique violation on the completed-hash index maps to
// ErrDuplicateContent, on the primary key to ErrAlreadyExists.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    content_hash,
    display_name,
    original_filename,
    size_bytes,
    media_type,
    extension,
    storage_key,
    owner_id,
    is_public,
    permissions,
    document_type,
    status,
    error_message,
    created_at,
    updated_at,
    processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15, $16)`

	perms, err := marshalPermissions(doc.Permissions)
	if err != nil {
		return err
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.ContentHash,
		doc.DisplayName,
		doc.OriginalFilename,
		doc.SizeBytes,
		doc.MediaType,
		doc.Extension,
		doc.StorageKey,
		doc.OwnerID,
		doc.IsPublic,
		perms,
		doc.DocumentType,
		string(doc.Status),
		nullString(doc.ErrorMessage),
		createdAt,
		nullTime(doc.ProcessedAt),
	)
	return mapWriteError(err)
}

// GetByID fetches a document by ID, including soft-deleted rows.
func (r *PGRepo) GetByID(ctx context.Context, documentID string) (Document, error) {
	query := `
SELECT ` + documentColumns + `
FROM documents
WHERE id = $1
LIMIT 1`
	return scanDocument(r.DB.QueryRowContext(ctx, query, documentID))
}

// FindByContentHash returns the live document for hash, preferring a completed one.
func (r *PGRepo) FindByContentHash(ctx context.Context, contentHash string) (Document, error) {
	query := `
SELECT ` + documentColumns + `
FROM documents
WHERE content_hash = $1 AND NOT is_deleted
ORDER BY (status = 'completed') DESC, created_at DESC
LIMIT 1`
	return scanDocument(r.DB.QueryRowContext(ctx, query, contentHash))
}

// ApplyReuse overwrites a processing/failed document in one statement. The owner column is
// never touched.
func (r *PGRepo) ApplyReuse(ctx context.Context, documentID string, upd ReuseUpdate) (Document, error) {
	query := `
UPDATE documents
SET display_name = $2,
    original_filename = $3,
    size_bytes = $4,
    media_type = $5,
    extension = $6,
    storage_key = $7,
    is_public = $8,
    permissions = $9,
    document_type = $10,
    status = 'completed',
    error_message = NULL,
    processed_at = $11,
    updated_at = NOW()
WHERE id = $1 AND NOT is_deleted AND status <> 'completed'
RETURNING ` + documentColumns

	perms, err := marshalPermissions(upd.Permissions)
	if err != nil {
		return Document{}, err
	}
	doc, err := scanDocument(r.DB.QueryRowContext(
		ctx,
		query,
		documentID,
		upd.DisplayName,
		upd.OriginalFilename,
		upd.SizeBytes,
		upd.MediaType,
		upd.Extension,
		upd.StorageKey,
		upd.IsPublic,
		perms,
		upd.DocumentType,
		upd.ProcessedAt,
	))
	if errors.Is(err, ErrNotFound) {
		return Document{}, ErrNotReusable
	}
	if err != nil {
		return Document{}, mapWriteError(err)
	}
	return doc, nil
}

// MarkStatus sets the status and error message.
func (r *PGRepo) MarkStatus(ctx context.Context, documentID string, status Status, errorMessage string) error {
	if !ValidStatus(status) {
		return ErrInvalidInput
	}
	const query = `
UPDATE documents
SET status = $2, error_message = $3, updated_at = NOW()
WHERE id = $1 AND NOT is_deleted`
	res, err := r.DB.ExecContext(ctx, query, documentID, string(status), nullString(errorMessage))
	if err != nil {
		return mapWriteError(err)
	}
	return requireRow(res)
}

// UpdateProcessingInfo records extraction/indexing outputs; empty values keep the current column.
func (r *PGRepo) UpdateProcessingInfo(ctx context.Context, documentID string, info ProcessingInfo) error {
	const query = `
UPDATE documents
SET extracted_text_key = COALESCE($2, extracted_text_key),
    vector_id = COALESCE($3, vector_id),
    indexed_at = COALESCE($4, indexed_at),
    updated_at = NOW()
WHERE id = $1 AND NOT is_deleted`
	res, err := r.DB.ExecContext(ctx, query, documentID, nullString(info.ExtractedTextKey), nullString(info.VectorID), nullTime(info.IndexedAt))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdatePermissions replaces capability strings and public visibility.
func (r *PGRepo) UpdatePermissions(ctx context.Context, documentID string, permissions []string, isPublic bool) error {
	perms, err := marshalPermissions(permissions)
	if err != nil {
		return err
	}
	const query = `
UPDATE documents
SET permissions = $2, is_public = $3, updated_at = NOW()
WHERE id = $1 AND NOT is_deleted`
	res, err := r.DB.ExecContext(ctx, query, documentID, perms, isPublic)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SoftDelete flags the document as deleted.
func (r *PGRepo) SoftDelete(ctx context.Context, documentID string) error {
	const query = `
UPDATE documents
SET is_deleted = TRUE, updated_at = NOW()
WHERE id = $1 AND NOT is_deleted`
	res, err := r.DB.ExecContext(ctx, query, documentID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListByOwner lists live documents ordered newest-first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Document, error) {
	limit, offset = clampPage(limit, offset)
	query := `
SELECT ` + documentColumns + `
FROM documents
WHERE owner_id = $1 AND NOT is_deleted
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

// Search matches term against display and original names using ILIKE.
func (r *PGRepo) Search(ctx context.Context, ownerID, term string, limit int) ([]Document, error) {
	limit, _ = clampPage(limit, 0)
	query := `
SELECT ` + documentColumns + `
FROM documents
WHERE owner_id = $1 AND NOT is_deleted
  AND (display_name ILIKE $2 OR original_filename ILIKE $2)
ORDER BY created_at DESC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, likePattern(term), limit)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

// StatsByOwner aggregates live documents by media type.
func (r *PGRepo) StatsByOwner(ctx context.Context, ownerID string) (Stats, error) {
	const query = `
SELECT media_type, COUNT(*), COALESCE(SUM(size_bytes), 0)
FROM documents
WHERE owner_id = $1 AND NOT is_deleted
GROUP BY media_type`
	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	stats := Stats{ByMediaType: map[string]TypeStats{}}
	for rows.Next() {
		var mediaType string
		var ts TypeStats
		if err := rows.Scan(&mediaType, &ts.Count, &ts.TotalSize); err != nil {
			return Stats{}, err
		}
		stats.ByMediaType[mediaType] = ts
		stats.TotalDocuments += ts.Count
		stats.TotalSizeBytes += ts.TotalSize
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status string
	var perms []byte
	var errorMessage sql.NullString
	var extractedKey sql.NullString
	var vectorID sql.NullString
	var indexedAt sql.NullTime
	var processedAt sql.NullTime
	err := row.Scan(
		&doc.ID,
		&doc.ContentHash,
		&doc.DisplayName,
		&doc.OriginalFilename,
		&doc.SizeBytes,
		&doc.MediaType,
		&doc.Extension,
		&doc.StorageKey,
		&doc.OwnerID,
		&doc.IsPublic,
		&perms,
		&doc.DocumentType,
		&status,
		&errorMessage,
		&extractedKey,
		&vectorID,
		&indexedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&processedAt,
		&doc.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.Status = Status(status)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &doc.Permissions); err != nil {
			return Document{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if errorMessage.Valid {
		doc.ErrorMessage = errorMessage.String
	}
	if extractedKey.Valid {
		doc.ExtractedTextKey = extractedKey.String
	}
	if vectorID.Valid {
		doc.VectorID = vectorID.String
	}
	if indexedAt.Valid {
		doc.IndexedAt = &indexedAt.Time
	}
	if processedAt.Valid {
		doc.ProcessedAt = &processedAt.Time
	}
	return doc, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func marshalPermissions(perms []string) ([]byte, error) {
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	return raw, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "documents_pkey" {
			return ErrAlreadyExists
		}
		return ErrDuplicateContent
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func likePattern(term string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(term))
	return "%" + escaped + "%"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Registry = (*PGRepo)(nil)
