package jobs

import (
	"context"
	"time"

	"docstore-backend/internal/documents"
)

// Store persists ingestion jobs. Complete and Fail only move a job out of processing; applied
// to a terminal job they return ErrAlreadyTerminal.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	Complete(ctx context.Context, jobID string, result documents.View, endedAt time.Time) error
	Fail(ctx context.Context, jobID, message string, endedAt time.Time) error
	// PurgeTerminal deletes terminal jobs that ended before olderThan. Processing jobs are kept.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
	// ListStuck returns processing jobs started before startedBefore, oldest first.
	ListStuck(ctx context.Context, startedBefore time.Time) ([]Job, error)
}
