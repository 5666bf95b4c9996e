package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docstore-backend/internal/jobs"
	"docstore-backend/internal/shared/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:             "dev",
		LogLevel:        "error",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		Upload: config.UploadConfig{
			MaxSizeBytes:      1 << 20,
			AllowedExtensions: []string{"txt", "pdf"},
		},
		Ingest: config.IngestConfig{
			Workers:    2,
			QueueDepth: 4,
			JobTimeout: 5 * time.Second,
		},
		Jobs: config.JobsConfig{StoreType: "auto"},
	}
}

func TestBuildFallsBackToMemory(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Shutdown(context.Background())

	if app.DB != nil {
		t.Fatalf("expected no database in dev without DATABASE_URL")
	}
	if _, ok := app.JobStore.(*jobs.MemoryStore); !ok {
		t.Fatalf("expected memory job store, got %T", app.JobStore)
	}
	if app.Router == nil || app.Scheduler == nil {
		t.Fatalf("expected router and scheduler to be wired")
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.JWTSecret = "secret"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected error without DATABASE_URL in production")
	}
}

func TestBuildRejectsMismatchedJobStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.StoreType = "postgres"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for postgres job store without database")
	}
}

func TestUploadPollAndDownload(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Shutdown(context.Background())

	jobID := upload(t, app, "notes.txt", []byte("meeting notes"))

	var status struct {
		Status     string `json:"status"`
		DocumentID string `json:"documentId"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := call(app, http.MethodGet, "/api/v1/ingestions/"+jobID+"/status", nil, "")
		if resp.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", resp.Code)
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.Status != "processing" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never finished", jobID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Status != "completed" || status.DocumentID == "" {
		t.Fatalf("unexpected terminal status: %+v", status)
	}

	resp := call(app, http.MethodGet, "/api/v1/ingestions/"+jobID+"/result", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("result: expected 200, got %d", resp.Code)
	}

	resp = call(app, http.MethodGet, "/api/v1/documents/"+status.DocumentID+"/download", nil, "")
	if resp.Code != http.StatusOK || resp.Body.String() != "meeting notes" {
		t.Fatalf("download: unexpected %d %q", resp.Code, resp.Body.String())
	}

	resp = call(app, http.MethodGet, "/api/v1/ingestions/"+jobID+"/status", nil, "someone-else")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("other owner: expected 404, got %d", resp.Code)
	}
}

func upload(t *testing.T, app *App, name string, data []byte) string {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	resp := call(app, http.MethodPost, "/api/v1/ingestions", &body, "", mw.FormDataContentType())
	if resp.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var accepted struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &accepted); err != nil || accepted.JobID == "" {
		t.Fatalf("decode submit response: %v %s", err, resp.Body.String())
	}
	return accepted.JobID
}

func call(app *App, method, path string, body *bytes.Buffer, user string, contentType ...string) *httptest.ResponseRecorder {
	if user == "" {
		user = "user-1"
	}
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-Id", user)
	if len(contentType) > 0 {
		req.Header.Set("Content-Type", contentType[0])
	}
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	return resp
}
