package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstore-backend/internal/dedup"
	"docstore-backend/internal/documents"
	"docstore-backend/internal/jobs"
	"docstore-backend/internal/shared/storage/object"
	"docstore-backend/internal/shared/storage/object/local"
)

var testExtensions = []string{"pdf", "txt", "doc", "docx", "jpg", "jpeg", "png", "gif", "xls", "xlsx", "log"}

// gateStore holds every Put until the gate is closed or the context ends.
type gateStore struct {
	object.ObjectStore
	gate chan struct{}
}

func (g *gateStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return g.ObjectStore.Put(ctx, key, contentType, r)
}

type countingJobs struct {
	*jobs.MemoryStore
	creates atomic.Int32
}

func (c *countingJobs) Create(ctx context.Context, job jobs.Job) error {
	c.creates.Add(1)
	return c.MemoryStore.Create(ctx, job)
}

type harness struct {
	sched    *Scheduler
	jobs     *countingJobs
	registry *documents.MemoryRepo
	svc      *jobs.Service
}

func newHarness(t *testing.T, cfg Config, store object.ObjectStore) *harness {
	t.Helper()
	if cfg.AllowedExtensions == nil {
		cfg.AllowedExtensions = testExtensions
	}
	if store == nil {
		store = local.New(t.TempDir())
	}
	registry := documents.NewMemoryRepo()
	jobStore := &countingJobs{MemoryStore: jobs.NewMemoryStore()}
	sched, err := NewScheduler(cfg, jobStore, dedup.NewResolver(registry, store))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	return &harness{
		sched:    sched,
		jobs:     jobStore,
		registry: registry,
		svc:      jobs.NewService(jobStore, time.Hour, time.Hour),
	}
}

func (h *harness) submit(t *testing.T, owner, name string, content []byte) string {
	t.Helper()
	id, err := h.sched.Submit(context.Background(), SubmitRequest{
		OwnerID:      owner,
		Filename:     name,
		DeclaredSize: int64(len(content)),
		Source:       BytesSource(content),
	})
	require.NoError(t, err)
	return id
}

func (h *harness) waitTerminal(t *testing.T, jobID string) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.jobs.Get(context.Background(), jobID)
		return err == nil && job.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestSameContentUploadedTwiceIsDuplicate(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 10 << 20}, nil)

	first := h.waitTerminal(t, h.submit(t, "alice", "a.txt", []byte("hello")))
	require.Equal(t, jobs.StatusCompleted, first.Status)
	require.NotNil(t, first.Result)
	assert.False(t, first.Result.IsDuplicate)
	assert.Equal(t, "a.txt", first.Result.OriginalFilename)
	assert.Equal(t, int64(5), first.Result.SizeBytes)
	assert.True(t, strings.HasPrefix(first.Result.MediaType, "text/plain"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", first.Result.ContentHash)

	second := h.waitTerminal(t, h.submit(t, "bob", "a.txt", []byte("hello")))
	require.Equal(t, jobs.StatusCompleted, second.Status)
	assert.True(t, second.Result.IsDuplicate)
	assert.Equal(t, first.Result.DocumentID, second.Result.DocumentID)
	assert.NotEqual(t, first.ID, second.ID)

	docs, err := h.registry.ListByOwner(context.Background(), "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDisallowedExtensionFailsNamingAllowedTypes(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	job := h.waitTerminal(t, h.submit(t, "alice", "setup.exe", []byte("MZ")))
	require.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "exe")
	assert.Contains(t, job.ErrorMessage, strings.Join(testExtensions, ", "))

	_, err := h.svc.Result(context.Background(), "alice", job.ID)
	var failed *jobs.FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, job.ErrorMessage, failed.Message)
}

func TestOversizedDeclaredUploadRejectedWithoutJob(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 10 << 20}, nil)

	_, err := h.sched.Submit(context.Background(), SubmitRequest{
		OwnerID:      "alice",
		Filename:     "big.pdf",
		DeclaredSize: 50 << 20,
		Source:       BytesSource("irrelevant"),
	})
	require.ErrorIs(t, err, ErrSizeExceeded)
	assert.EqualValues(t, 0, h.jobs.creates.Load())
}

func TestUnderDeclaredUploadFailsOnActualSize(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 8}, nil)

	id, err := h.sched.Submit(context.Background(), SubmitRequest{
		OwnerID:      "alice",
		Filename:     "a.txt",
		DeclaredSize: 1,
		Source:       BytesSource("way more than eight bytes"),
	})
	require.NoError(t, err)
	job := h.waitTerminal(t, id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "exceeds maximum of 8 bytes")
}

func TestStatusIsProcessingImmediately(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, Config{}, &gateStore{ObjectStore: local.New(t.TempDir()), gate: gate})

	id := h.submit(t, "alice", "a.txt", []byte("slow"))
	view, err := h.svc.Status(context.Background(), "alice", id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusProcessing, view.Status)
	_, err = h.svc.Result(context.Background(), "alice", id)
	assert.ErrorIs(t, err, jobs.ErrStillProcessing)

	close(gate)
	assert.Equal(t, jobs.StatusCompleted, h.waitTerminal(t, id).Status)
}

func TestSaturatedQueueRejectsWithoutJob(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, Config{Workers: 1, QueueDepth: 1}, &gateStore{ObjectStore: local.New(t.TempDir()), gate: gate})

	a := h.submit(t, "alice", "a.txt", []byte("one"))
	b := h.submit(t, "alice", "b.txt", []byte("two"))

	_, err := h.sched.Submit(context.Background(), SubmitRequest{
		OwnerID:      "alice",
		Filename:     "c.txt",
		DeclaredSize: 5,
		Source:       BytesSource("three"),
	})
	require.ErrorIs(t, err, ErrSaturated)
	assert.EqualValues(t, 2, h.jobs.creates.Load())

	close(gate)
	assert.Equal(t, jobs.StatusCompleted, h.waitTerminal(t, a).Status)
	assert.Equal(t, jobs.StatusCompleted, h.waitTerminal(t, b).Status)

	// capacity is returned once jobs finish
	h.waitTerminal(t, h.submit(t, "alice", "d.txt", []byte("four")))
}

func TestJobTimeoutFailsWithBudgetMessage(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	h := newHarness(t, Config{JobTimeout: 50 * time.Millisecond}, &gateStore{ObjectStore: local.New(t.TempDir()), gate: gate})

	job := h.waitTerminal(t, h.submit(t, "alice", "a.txt", []byte("never stored")))
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "ingestion timed out after 50ms", job.ErrorMessage)
}

type panickingResolver struct{}

func (panickingResolver) Resolve(ctx context.Context, req dedup.Request) (dedup.Outcome, error) {
	panic("resolver exploded")
}

func TestWorkerPanicBecomesFailure(t *testing.T) {
	store := jobs.NewMemoryStore()
	sched, err := NewScheduler(Config{AllowedExtensions: testExtensions}, store, panickingResolver{})
	require.NoError(t, err)
	defer sched.Shutdown(context.Background())

	id, err := sched.Submit(context.Background(), SubmitRequest{
		OwnerID: "alice", Filename: "a.txt", DeclaredSize: 1, Source: BytesSource("x"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), id)
		return err == nil && job.Status == jobs.StatusFailed && job.ErrorMessage == "internal error during ingestion"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestConcurrentIdenticalSubmissionsShareOneDocument(t *testing.T) {
	h := newHarness(t, Config{Workers: 8, QueueDepth: 64}, nil)
	const n = 16

	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = h.sched.Submit(context.Background(), SubmitRequest{
				OwnerID:      "owner",
				Filename:     "same.txt",
				DeclaredSize: 9,
				Source:       BytesSource("identical"),
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	duplicates := 0
	docID := ""
	for _, id := range ids {
		job := h.waitTerminal(t, id)
		require.Equal(t, jobs.StatusCompleted, job.Status)
		if docID == "" {
			docID = job.Result.DocumentID
		}
		assert.Equal(t, docID, job.Result.DocumentID)
		if job.Result.IsDuplicate {
			duplicates++
		}
	}
	assert.Equal(t, n-1, duplicates)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	cases := []SubmitRequest{
		{Filename: "a.txt", Source: BytesSource("x")},
		{OwnerID: "u", Filename: "  ", Source: BytesSource("x")},
		{OwnerID: "u", Filename: "a.txt"},
		{OwnerID: "u", Filename: "a.txt", Source: BytesSource("x"), DocumentType: "type9"},
	}
	for _, req := range cases {
		_, err := h.sched.Submit(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.EqualValues(t, 0, h.jobs.creates.Load())
}

func TestShutdownDrainsAndRefusesNewWork(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.submit(t, "alice", "a.txt", []byte("drain me"))

	require.NoError(t, h.sched.Shutdown(context.Background()))
	job, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.Terminal())

	_, err = h.sched.Submit(context.Background(), SubmitRequest{
		OwnerID: "alice", Filename: "b.txt", DeclaredSize: 1, Source: BytesSource("x"),
	})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

// deafStore sleeps through every Put without looking at the context and stores nothing.
type deafStore struct {
	object.ObjectStore
	delay time.Duration
}

func (d *deafStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	time.Sleep(d.delay)
	return io.Copy(io.Discard, r)
}

func TestTimeoutHoldsEvenWhenStorageIgnoresContext(t *testing.T) {
	store := &deafStore{ObjectStore: local.New(t.TempDir()), delay: 2 * time.Second}
	h := newHarness(t, Config{JobTimeout: 50 * time.Millisecond}, store)

	start := time.Now()
	first := h.submit(t, "alice", "a.txt", []byte("stalled"))
	second := h.submit(t, "bob", "b.txt", []byte("stalled"))

	for _, id := range []string{first, second} {
		require.Eventually(t, func() bool {
			job, err := h.jobs.Get(context.Background(), id)
			return err == nil && job.Terminal()
		}, time.Second, 5*time.Millisecond)
		job, err := h.jobs.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, job.Status)
		assert.Equal(t, "ingestion timed out after 50ms", job.ErrorMessage)
	}
	assert.Less(t, time.Since(start), time.Second)
}

type failingStore struct {
	object.ObjectStore
	putErr error
}

func (f *failingStore) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	return 0, f.putErr
}

func TestStorageFailureFailsJobWithoutDocument(t *testing.T) {
	store := &failingStore{ObjectStore: local.New(t.TempDir()), putErr: errors.New("disk full")}
	h := newHarness(t, Config{}, store)

	job := h.waitTerminal(t, h.submit(t, "alice", "a.txt", []byte("nowhere to go")))
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "disk full")
	assert.Nil(t, job.Result)

	docs, err := h.registry.ListByOwner(context.Background(), "alice", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// flakyJobs fails the first completeFailures Complete calls, or all of them when negative.
type flakyJobs struct {
	*jobs.MemoryStore
	completeFailures int32
	completes        atomic.Int32
}

func (f *flakyJobs) Complete(ctx context.Context, jobID string, result documents.View, endedAt time.Time) error {
	n := f.completes.Add(1)
	if f.completeFailures < 0 || n <= f.completeFailures {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Complete(ctx, jobID, result, endedAt)
}

func newFlakyScheduler(t *testing.T, store *flakyJobs, registry *documents.MemoryRepo) *Scheduler {
	t.Helper()
	sched, err := NewScheduler(Config{AllowedExtensions: testExtensions}, store, dedup.NewResolver(registry, local.New(t.TempDir())))
	require.NoError(t, err)
	sched.retryBackoff = time.Millisecond
	return sched
}

func TestCompleteWriteIsRetried(t *testing.T) {
	store := &flakyJobs{MemoryStore: jobs.NewMemoryStore(), completeFailures: 2}
	sched := newFlakyScheduler(t, store, documents.NewMemoryRepo())

	id, err := sched.Submit(context.Background(), SubmitRequest{
		OwnerID: "alice", Filename: "a.txt", DeclaredSize: 2, Source: BytesSource("ok"),
	})
	require.NoError(t, err)
	require.NoError(t, sched.Shutdown(context.Background()))

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.EqualValues(t, 3, store.completes.Load())
}

func TestUnrecordableResultFailsJob(t *testing.T) {
	store := &flakyJobs{MemoryStore: jobs.NewMemoryStore(), completeFailures: -1}
	registry := documents.NewMemoryRepo()
	sched := newFlakyScheduler(t, store, registry)

	id, err := sched.Submit(context.Background(), SubmitRequest{
		OwnerID: "alice", Filename: "a.txt", DeclaredSize: 4, Source: BytesSource("kept"),
	})
	require.NoError(t, err)
	require.NoError(t, sched.Shutdown(context.Background()))

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "could not record ingestion result", job.ErrorMessage)
	assert.NotNil(t, job.EndedAt)
	assert.EqualValues(t, sched.retryAttempts, store.completes.Load())

	docs, err := registry.ListByOwner(context.Background(), "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "the stored document stays available for a duplicate hit")
}
