package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WillianCassan/chatbot-with-rag/pkg/queue"
)

type fakeJobs struct {
	err error
}

func (f fakeJobs) GetJob(_ context.Context, jobID string) (queue.JobStatus, bool, error) {
	if f.err != nil {
		return queue.JobStatus{}, false, f.err
	}
	if jobID != "job-1" {
		return queue.JobStatus{}, false, nil
	}
	return queue.JobStatus{ID: "job-1", DocumentID: "doc-1", Status: queue.StatusDone, Attempts: 1}, true, nil
}

func newTestServer(t *testing.T, jobs JobReader, token string) http.Handler {
	t.Helper()
	srv, err := New(Config{Jobs: jobs, InternalToken: token})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.Router()
}

func TestJobLookup(t *testing.T) {
	h := newTestServer(t, fakeJobs{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/indexer/jobs/job-1", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var job queue.JobStatus
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.DocumentID != "doc-1" || job.Status != queue.StatusDone {
		t.Fatalf("job = %+v", job)
	}

	req = httptest.NewRequest(http.MethodGet, "/indexer/jobs/missing", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestJobLookupRequiresToken(t *testing.T) {
	h := newTestServer(t, fakeJobs{}, "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/indexer/jobs/job-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body errorResponse
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != "AUTH_INVALID_SERVICE_TOKEN" || body.RequestID == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestJobLookupStoreFailure(t *testing.T) {
	h := newTestServer(t, fakeJobs{err: errors.New("redis down")}, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/indexer/jobs/job-1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, fakeJobs{}, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
