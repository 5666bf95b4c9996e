package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/semaphore"

	"docstore-backend/internal/dedup"
	"docstore-backend/internal/documents"
	"docstore-backend/internal/fingerprint"
	"docstore-backend/internal/jobs"
	"docstore-backend/internal/shared/metrics"
	"docstore-backend/internal/shared/telemetry"
	"docstore-backend/internal/shared/util"
)

// Config sizes the scheduler and bounds what it accepts.
type Config struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	Workers           int
	QueueDepth        int
	JobTimeout        time.Duration
	HashChunk         int
}

func (c Config) withDefaults() Config {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth < 0 {
		c.QueueDepth = 0
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.HashChunk <= 0 {
		c.HashChunk = fingerprint.DefaultChunkSize
	}
	return c
}

// Resolver is the dedup step the worker delegates to.
type Resolver interface {
	Resolve(ctx context.Context, req dedup.Request) (dedup.Outcome, error)
}

// SubmitRequest describes one upload.
type SubmitRequest struct {
	OwnerID      string
	Filename     string
	DisplayName  string
	DeclaredSize int64
	Source       Source
	IsPublic     bool
	DocumentType string
	Permissions  []string
}

type task struct {
	ctx  context.Context
	job  jobs.Job
	req  SubmitRequest
	name string
}

// Scheduler accepts uploads, creates jobs and runs them on a bounded worker pool.
type Scheduler struct {
	cfg      Config
	jobs     jobs.Store
	resolver Resolver
	hasher   *fingerprint.Hasher
	allowed  map[string]struct{}

	pool   *ants.Pool
	admit  *semaphore.Weighted
	queue  chan task
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}

	now   func() time.Time
	newID func() string

	retryAttempts int
	retryBackoff  time.Duration
}

// NewScheduler starts the worker pool. Admission capacity is Workers+QueueDepth jobs.
func NewScheduler(cfg Config, store jobs.Store, resolver Resolver) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	capacity := cfg.Workers + cfg.QueueDepth
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[ext] = struct{}{}
	}
	s := &Scheduler{
		cfg:      cfg,
		jobs:     store,
		resolver: resolver,
		hasher:   fingerprint.New(cfg.HashChunk),
		allowed:  allowed,
		pool:     pool,
		admit:    semaphore.NewWeighted(int64(capacity)),
		queue:    make(chan task, capacity),
		done:     make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,

		retryAttempts: 4,
		retryBackoff:  50 * time.Millisecond,
	}
	go s.dispatch()
	return s, nil
}

// Submit validates the upload, records a processing job and queues it. It never waits for the
// job to run. A full queue yields ErrSaturated and no job.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	name, docType, err := s.validate(req)
	if err != nil {
		metrics.IncRejected(rejectReason(err))
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrShuttingDown
	}
	if !s.admit.TryAcquire(1) {
		metrics.IncRejected("saturated")
		telemetry.Warn("ingest.job.rejected", map[string]any{
			"reason":   "saturated",
			"owner_id": req.OwnerID,
		})
		return "", ErrSaturated
	}

	job := jobs.Job{
		ID:               s.newID(),
		OwnerID:          req.OwnerID,
		OriginalFilename: name,
		SizeBytes:        req.DeclaredSize,
		IsPublic:         req.IsPublic,
		DocumentType:     docType,
		Status:           jobs.StatusProcessing,
		StartedAt:        s.now(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.admit.Release(1)
		return "", fmt.Errorf("create job: %w", err)
	}

	req.DocumentType = docType
	req.Permissions = documents.NormalizePermissions(req.Permissions)
	metrics.IncSubmitted()
	s.wg.Add(1)
	// Capacity matches the semaphore, so this send never blocks.
	s.queue <- task{ctx: context.WithoutCancel(ctx), job: job, req: req, name: name}

	telemetry.Info("ingest.job.submitted", map[string]any{
		"job_id":        job.ID,
		"owner_id":      job.OwnerID,
		"filename":      name,
		"declared_size": req.DeclaredSize,
	})
	return job.ID, nil
}

func (s *Scheduler) validate(req SubmitRequest) (string, string, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return "", "", fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if req.Source == nil {
		return "", "", fmt.Errorf("%w: file content is required", ErrInvalidInput)
	}
	name, err := util.SanitizeFileName(req.Filename)
	if err != nil {
		return "", "", fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if req.DeclaredSize < 0 {
		return "", "", fmt.Errorf("%w: negative size", ErrInvalidInput)
	}
	if req.DeclaredSize > s.cfg.MaxUploadBytes {
		return "", "", fmt.Errorf("%w: %d bytes exceeds maximum of %d bytes", ErrSizeExceeded, req.DeclaredSize, s.cfg.MaxUploadBytes)
	}
	docType, err := documents.ParseDocumentType(req.DocumentType)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return name, docType, nil
}

func rejectReason(err error) string {
	if errors.Is(err, ErrSizeExceeded) {
		return "size"
	}
	return "invalid"
}

// dispatch feeds queued tasks to the pool; Submit on a blocking pool waits for a free worker.
func (s *Scheduler) dispatch() {
	defer close(s.done)
	for t := range s.queue {
		if err := s.pool.Submit(func() { s.execute(t) }); err != nil {
			s.execute(t)
		}
	}
}

// execute frees the pool worker once the job is terminal. The admission slot is held until
// processing really stops, so abandoned work still counts against capacity.
func (s *Scheduler) execute(t task) {
	defer s.wg.Done()
	finished := s.run(t)
	select {
	case <-finished:
		s.admit.Release(1)
	default:
		go func() {
			<-finished
			s.admit.Release(1)
		}()
	}
}

// Shutdown stops admissions and waits for queued and running jobs or ctx expiry.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-s.done
		close(finished)
	}()
	select {
	case <-finished:
		s.pool.Release()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
