package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docstore-backend/internal/documents"
	"docstore-backend/internal/shared/telemetry"
)

// Service answers polling queries and runs maintenance over a Store.
type Service struct {
	Store      Store
	Retention  time.Duration
	StuckAfter time.Duration
	Now        func() time.Time
}

// NewService constructs a Service. Zero durations fall back to 7 days and 30 minutes.
func NewService(store Store, retention, stuckAfter time.Duration) *Service {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	return &Service{
		Store:      store,
		Retention:  retention,
		StuckAfter: stuckAfter,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the job visible to ownerID.
func (s *Service) Get(ctx context.Context, ownerID, jobID string) (Job, error) {
	job, err := s.Store.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if ownerID != "" && job.OwnerID != ownerID {
		return Job{}, ErrNotFound
	}
	return job, nil
}

// Status returns the polling view with elapsed time.
func (s *Service) Status(ctx context.Context, ownerID, jobID string) (StatusView, error) {
	job, err := s.Get(ctx, ownerID, jobID)
	if err != nil {
		return StatusView{}, err
	}
	return toStatusView(job, s.Now()), nil
}

// Result returns the Document view of a completed job. A processing job yields
// ErrStillProcessing and a failed one a *FailedError.
func (s *Service) Result(ctx context.Context, ownerID, jobID string) (documents.View, error) {
	job, err := s.Get(ctx, ownerID, jobID)
	if err != nil {
		return documents.View{}, err
	}
	switch job.Status {
	case StatusProcessing:
		return documents.View{}, ErrStillProcessing
	case StatusFailed:
		return documents.View{}, &FailedError{JobID: job.ID, Message: job.ErrorMessage}
	case StatusCompleted:
		if job.Result == nil {
			return documents.View{}, fmt.Errorf("job %s completed without result", job.ID)
		}
		return *job.Result, nil
	default:
		return documents.View{}, fmt.Errorf("job %s has unknown status %q", job.ID, job.Status)
	}
}

// Purge removes terminal jobs older than the retention window.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	cutoff := s.Now().Add(-s.Retention)
	n, err := s.Store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	telemetry.Info("jobs.purge", map[string]any{
		"purged": n,
		"cutoff": cutoff,
	})
	return n, nil
}

// Stuck lists processing jobs older than the stuck threshold.
func (s *Service) Stuck(ctx context.Context) ([]Job, error) {
	stuck, err := s.Store.ListStuck(ctx, s.Now().Add(-s.StuckAfter))
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	if len(stuck) > 0 {
		telemetry.Warn("jobs.stuck", map[string]any{"count": len(stuck)})
	}
	return stuck, nil
}

// RunJanitor purges on every tick until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Purge(ctx); err != nil && !errors.Is(err, context.Canceled) {
				telemetry.Error("jobs.purge.failed", map[string]any{"error": err})
			}
		}
	}
}
