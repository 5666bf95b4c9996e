package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"docstore-backend/internal/documents"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Job
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[job.ID]; ok {
		return ErrInvalidInput
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.StartedAt
	}
	s.data[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.data[jobID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) Complete(ctx context.Context, jobID string, result documents.View, endedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.finish(jobID, endedAt, func(j *Job) {
		j.Status = StatusCompleted
		j.Result = &result
	})
}

func (s *MemoryStore) Fail(ctx context.Context, jobID, message string, endedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.finish(jobID, endedAt, func(j *Job) {
		j.Status = StatusFailed
		j.ErrorMessage = message
	})
}

func (s *MemoryStore) finish(jobID string, endedAt time.Time, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.data[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusProcessing {
		return ErrAlreadyTerminal
	}
	apply(&job)
	job.EndedAt = &endedAt
	job.UpdatedAt = endedAt
	s.data[jobID] = job
	return nil
}

func (s *MemoryStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.data {
		if job.Terminal() && job.EndedAt != nil && job.EndedAt.Before(olderThan) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListStuck(ctx context.Context, startedBefore time.Time) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := []Job{}
	for _, job := range s.data {
		if job.Status == StatusProcessing && job.StartedAt.Before(startedBefore) {
			out = append(out, job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
