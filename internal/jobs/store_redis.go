package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"docstore-backend/internal/documents"
)

const (
	redisJobPrefix     = "ingest:job:"
	redisProcessingSet = "ingest:jobs:processing"
	redisTxRetries     = 5
)

// RedisStore keeps jobs as JSON values. Terminal jobs expire after the retention window and
// processing jobs never expire; a sorted set indexes processing jobs by start time.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redis.UniversalClient, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention}
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func jobKey(id string) string { return redisJobPrefix + id }

func (s *RedisStore) Create(ctx context.Context, job Job) error {
	if job.ID == "" {
		return ErrInvalidInput
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.StartedAt
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	// The key and its processing index entry are written in one MULTI so ListStuck always
	// sees a processing job.
	var created *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, jobKey(job.ID), payload, 0)
		pipe.ZAddNX(ctx, redisProcessingSet, redis.Z{
			Score:  float64(job.StartedAt.UnixMilli()),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !created.Val() {
		return ErrInvalidInput
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (Job, error) {
	raw, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return decodeJob(raw)
}

func (s *RedisStore) Complete(ctx context.Context, jobID string, result documents.View, endedAt time.Time) error {
	return s.finish(ctx, jobID, endedAt, func(j *Job) {
		j.Status = StatusCompleted
		j.Result = &result
	})
}

func (s *RedisStore) Fail(ctx context.Context, jobID, message string, endedAt time.Time) error {
	return s.finish(ctx, jobID, endedAt, func(j *Job) {
		j.Status = StatusFailed
		j.ErrorMessage = message
	})
}

// finish applies a terminal transition with optimistic locking on the job key.
func (s *RedisStore) finish(ctx context.Context, jobID string, endedAt time.Time, apply func(*Job)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if job.Status != StatusProcessing {
			return ErrAlreadyTerminal
		}
		apply(&job)
		job.EndedAt = &endedAt
		job.UpdatedAt = endedAt
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, s.retention)
			p.ZRem(ctx, redisProcessingSet, jobID)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: %w", jobID, redis.TxFailedErr)
}

// PurgeTerminal is a no-op count: terminal keys carry a TTL equal to the retention window.
func (s *RedisStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, ctx.Err()
}

func (s *RedisStore) ListStuck(ctx context.Context, startedBefore time.Time) ([]Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, redisProcessingSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(startedBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := []Job{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		if job.Status == StatusProcessing {
			out = append(out, job)
		}
	}
	return out, nil
}

func decodeJob(raw []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

var _ Store = (*RedisStore)(nil)
