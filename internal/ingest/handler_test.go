package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"docstore-backend/internal/documents"
	"docstore-backend/internal/jobs"
)

type fakeSubmitter struct {
	err  error
	got  SubmitRequest
	jobs *jobs.MemoryStore
}

func (f *fakeSubmitter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	f.got = req
	if f.err != nil {
		return "", f.err
	}
	job := jobs.Job{ID: "job-1", OwnerID: req.OwnerID, OriginalFilename: req.Filename, Status: jobs.StatusProcessing, StartedAt: time.Now().UTC()}
	return job.ID, f.jobs.Create(ctx, job)
}

func newTestRouter(t *testing.T, sub *fakeSubmitter, store *jobs.MemoryStore, max int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(sub, jobs.NewService(store, time.Hour, time.Hour), max)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", "user-1")
		c.Next()
	})
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write(content)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestSubmitReturnsAcceptedWithJobID(t *testing.T) {
	store := jobs.NewMemoryStore()
	sub := &fakeSubmitter{jobs: store}
	r := newTestRouter(t, sub, store, 1024)

	body, ct := multipartBody(t, "a.txt", []byte("hello"), map[string]string{
		"isPublic":     "true",
		"documentType": "type1",
		"permissions":  "read:u2, read:u3",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["jobId"] != "job-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if sub.got.OwnerID != "user-1" || !sub.got.IsPublic || sub.got.DocumentType != "type1" || sub.got.DeclaredSize != 5 {
		t.Fatalf("unexpected submit request: %+v", sub.got)
	}
	if len(sub.got.Permissions) != 2 {
		t.Fatalf("expected two permissions, got %v", sub.got.Permissions)
	}
}

func TestSubmitMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ErrSizeExceeded, http.StatusRequestEntityTooLarge},
		{ErrSaturated, http.StatusServiceUnavailable},
		{ErrInvalidInput, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		store := jobs.NewMemoryStore()
		r := newTestRouter(t, &fakeSubmitter{jobs: store, err: tc.err}, store, 1024)
		body, ct := multipartBody(t, "a.txt", []byte("x"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", body)
		req.Header.Set("Content-Type", ct)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, resp.Code)
		}
	}
}

func TestSubmitRejectsOversizedFileBeforeScheduling(t *testing.T) {
	store := jobs.NewMemoryStore()
	sub := &fakeSubmitter{jobs: store}
	r := newTestRouter(t, sub, store, 4)

	body, ct := multipartBody(t, "a.txt", []byte("too large"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
	if sub.got.OwnerID != "" {
		t.Fatalf("scheduler should not be called")
	}
}

func TestResultStates(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	r := newTestRouter(t, &fakeSubmitter{jobs: store}, store, 1024)
	now := time.Now().UTC()
	for _, id := range []string{"p", "c", "f"} {
		if err := store.Create(ctx, jobs.Job{ID: id, OwnerID: "user-1", Status: jobs.StatusProcessing, StartedAt: now}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = store.Complete(ctx, "c", documents.View{DocumentID: "doc-1"}, now)
	_ = store.Fail(ctx, "f", "file type exe is not allowed", now)

	cases := map[string]int{
		"p":       http.StatusAccepted,
		"c":       http.StatusOK,
		"f":       http.StatusUnprocessableEntity,
		"missing": http.StatusNotFound,
	}
	for id, want := range cases {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/ingestions/"+id+"/result", nil))
		if resp.Code != want {
			t.Fatalf("job %s: expected %d, got %d", id, want, resp.Code)
		}
	}
}

func TestStatusIncludesElapsed(t *testing.T) {
	store := jobs.NewMemoryStore()
	r := newTestRouter(t, &fakeSubmitter{jobs: store}, store, 1024)
	if err := store.Create(context.Background(), jobs.Job{
		ID: "job-1", OwnerID: "user-1", Status: jobs.StatusProcessing, StartedAt: time.Now().UTC().Add(-time.Second),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/ingestions/job-1/status", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var view jobs.StatusView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != jobs.StatusProcessing || view.ElapsedMs < 1000 {
		t.Fatalf("unexpected status view: %+v", view)
	}
}
