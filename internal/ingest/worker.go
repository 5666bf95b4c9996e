package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"docstore-backend/internal/dedup"
	"docstore-backend/internal/fingerprint"
	"docstore-backend/internal/jobs"
	"docstore-backend/internal/shared/metrics"
	"docstore-backend/internal/shared/telemetry"
	"docstore-backend/internal/shared/util"
)

// sniffLen is how much of the upload is kept for media type detection.
const sniffLen = 3072

// failure is a worker error with a metrics reason and a message safe to show the caller.
type failure struct {
	reason  string
	message string
	err     error
}

func (f *failure) Error() string { return f.message }
func (f *failure) Unwrap() error { return f.err }

// recordFailureMessage replaces a result that could not be written.
const recordFailureMessage = "could not record ingestion result"

type processResult struct {
	outcome dedup.Outcome
	err     error
}

// run processes one job within its wall-clock budget and records exactly one terminal state.
// The returned channel closes once process has actually returned, which can be after run when
// a collaborator ignores the deadline.
func (s *Scheduler) run(t task) <-chan struct{} {
	start := s.now()
	ctx, cancel := context.WithTimeout(t.ctx, s.cfg.JobTimeout)

	finished := make(chan struct{})
	results := make(chan processResult, 1)
	go func() {
		defer close(finished)
		defer cancel()
		outcome, err := s.process(ctx, t)
		results <- processResult{outcome: outcome, err: err}
	}()

	var res processResult
	select {
	case res = <-results:
	case <-ctx.Done():
		select {
		case res = <-results:
		default:
			res = processResult{err: ctx.Err()}
			telemetry.Warn("ingest.job.abandoned", map[string]any{
				"job_id":  t.job.ID,
				"timeout": s.cfg.JobTimeout.String(),
			})
		}
	}

	ended := s.now()
	durationMs := float64(ended.Sub(start).Microseconds()) / 1000.0
	metrics.ObserveJobDurationMs(durationMs)

	// Terminal writes must land even after the job budget is spent.
	writeCtx := context.WithoutCancel(ctx)

	if res.err != nil {
		f := s.classify(res.err)
		metrics.IncFailed(f.reason)
		telemetry.Error("ingest.job.failed", map[string]any{
			"job_id":      t.job.ID,
			"owner_id":    t.job.OwnerID,
			"reason":      f.reason,
			"error":       f.err,
			"duration_ms": durationMs,
		})
		s.finishFailed(writeCtx, t.job.ID, f.message, ended)
		return finished
	}

	view := res.outcome.ViewFor(t.job.OwnerID)
	telemetry.Info("ingest.job.completed", map[string]any{
		"job_id":      t.job.ID,
		"owner_id":    t.job.OwnerID,
		"document_id": view.DocumentID,
		"decision":    string(res.outcome.Decision),
		"duration_ms": durationMs,
	})
	err := s.writeTerminal(writeCtx, func(ctx context.Context) error {
		return s.jobs.Complete(ctx, t.job.ID, view, ended)
	})
	if err == nil {
		metrics.IncCompleted(string(res.outcome.Decision))
		return finished
	}
	telemetry.Error("ingest.job.complete_write", map[string]any{
		"job_id":      t.job.ID,
		"document_id": view.DocumentID,
		"error":       err,
	})
	metrics.IncFailed("record")
	s.finishFailed(writeCtx, t.job.ID, recordFailureMessage, s.now())
	return finished
}

func (s *Scheduler) finishFailed(ctx context.Context, jobID, message string, ended time.Time) {
	err := s.writeTerminal(ctx, func(ctx context.Context) error {
		return s.jobs.Fail(ctx, jobID, message, ended)
	})
	if err != nil {
		telemetry.Error("ingest.job.fail_write", map[string]any{"job_id": jobID, "error": err})
	}
}

// writeTerminal retries a terminal job write with doubling backoff. A job that is already
// terminal or gone is not retried.
func (s *Scheduler) writeTerminal(ctx context.Context, write func(context.Context) error) error {
	delay := s.retryBackoff
	var err error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		if err = write(ctx); err == nil {
			return nil
		}
		if errors.Is(err, jobs.ErrAlreadyTerminal) || errors.Is(err, jobs.ErrNotFound) {
			return err
		}
		if attempt < s.retryAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// process performs validation, hashing and resolution. Panics become failures.
func (s *Scheduler) process(ctx context.Context, t task) (outcome dedup.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("ingest.job.panic", map[string]any{
				"job_id": t.job.ID,
				"panic":  fmt.Sprint(rec),
				"stack":  string(debug.Stack()),
			})
			err = &failure{reason: "panic", message: "internal error during ingestion", err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	ext := util.Extension(t.name)
	if _, ok := s.allowed[ext]; !ok {
		shown := ext
		if shown == "" {
			shown = "(none)"
		}
		msg := fmt.Sprintf("file type %s is not allowed; allowed types: %s", shown, strings.Join(s.cfg.AllowedExtensions, ", "))
		return dedup.Outcome{}, &failure{reason: "extension", message: msg, err: ErrExtensionNotAllowed}
	}

	rc, err := t.req.Source.Open()
	if err != nil {
		return dedup.Outcome{}, fmt.Errorf("open upload: %w", err)
	}
	fp, size, head, err := s.hasher.SumWithHead(&ctxReader{ctx: ctx, r: rc}, s.cfg.MaxUploadBytes, sniffLen)
	_ = rc.Close()
	if err != nil {
		if errors.Is(err, fingerprint.ErrTooLarge) {
			msg := fmt.Sprintf("file size exceeds maximum of %d bytes", s.cfg.MaxUploadBytes)
			return dedup.Outcome{}, &failure{reason: "size", message: msg, err: err}
		}
		return dedup.Outcome{}, fmt.Errorf("hash upload: %w", err)
	}

	displayName := strings.TrimSpace(t.req.DisplayName)
	if displayName == "" {
		displayName = t.name
	}
	return s.resolver.Resolve(ctx, dedup.Request{
		Fingerprint: fp,
		Source:      t.req.Source,
		Meta: dedup.Meta{
			OwnerID:          t.req.OwnerID,
			DisplayName:      displayName,
			OriginalFilename: t.name,
			SizeBytes:        size,
			MediaType:        mimetype.Detect(head).String(),
			Extension:        ext,
			IsPublic:         t.req.IsPublic,
			Permissions:      t.req.Permissions,
			DocumentType:     t.req.DocumentType,
		},
	})
}

func (s *Scheduler) classify(err error) *failure {
	var f *failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &failure{
			reason:  "timeout",
			message: fmt.Sprintf("ingestion timed out after %s", s.cfg.JobTimeout),
			err:     err,
		}
	}
	return &failure{reason: "error", message: "ingestion failed: " + err.Error(), err: err}
}
