package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/calebsch/vqhub/internal/orchestrator"
	"github.com/calebsch/vqhub/internal/store"
	"github.com/calebsch/vqhub/pkg/models"
)

// --- mock JobService ---

type mockJobService struct {
	createFn  func(params orchestrator.CreateParams) (*models.Job, error)
	getFn     func(id, bucket string) (*models.Job, error)
	resultsFn func(id, bucket string) (*orchestrator.JobResults, error)
	rawFn     func(id, bucket string) ([]byte, string, error)
	listFn    func(bucket string) []models.Job
	deleteFn  func(id, bucket string) error
}

func (m *mockJobService) Create(_ context.Context, params orchestrator.CreateParams) (*models.Job, error) {
	return m.createFn(params)
}
func (m *mockJobService) Get(_ context.Context, id, bucket string) (*models.Job, error) {
	return m.getFn(id, bucket)
}
func (m *mockJobService) Results(_ context.Context, id, bucket string) (*orchestrator.JobResults, error) {
	return m.resultsFn(id, bucket)
}
func (m *mockJobService) Raw(_ context.Context, id, bucket string) ([]byte, string, error) {
	return m.rawFn(id, bucket)
}
func (m *mockJobService) List(_ context.Context, bucket string) []models.Job {
	return m.listFn(bucket)
}
func (m *mockJobService) Delete(_ context.Context, id, bucket string) error {
	return m.deleteFn(id, bucket)
}

// --- helpers ---

func withJobID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(method, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) map[string]any {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

// --- create ---

func TestCreateJobHandler_Success(t *testing.T) {
	var captured orchestrator.CreateParams
	mock := &mockJobService{createFn: func(params orchestrator.CreateParams) (*models.Job, error) {
		captured = params
		return &models.Job{ID: "j1", Status: models.JobStatusQueued, Bucket: params.Bucket}, nil
	}}
	h := NewCreateJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/jobs", map[string]string{
		"reference_key": "ref.mp4",
		"distorted_key": "dist.mp4",
		"folder":        "run1",
	}))

	data := parseData(t, rec, http.StatusAccepted)
	if data["id"] != "j1" || data["status"] != "queued" {
		t.Errorf("unexpected body: %v", data)
	}
	if captured.Bucket != "videos" {
		t.Errorf("default bucket not applied: %q", captured.Bucket)
	}
	if captured.Folder != "run1" {
		t.Errorf("folder not passed through: %q", captured.Folder)
	}
}

func TestCreateJobHandler_ExplicitBucket(t *testing.T) {
	var captured orchestrator.CreateParams
	mock := &mockJobService{createFn: func(params orchestrator.CreateParams) (*models.Job, error) {
		captured = params
		return &models.Job{ID: "j1"}, nil
	}}
	h := NewCreateJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/jobs", map[string]string{
		"bucket":        "other",
		"reference_key": "ref.mp4",
		"distorted_key": "dist.mp4",
	}))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if captured.Bucket != "other" {
		t.Errorf("explicit bucket overridden: %q", captured.Bucket)
	}
}

func TestCreateJobHandler_MissingKeys(t *testing.T) {
	h := NewCreateJobHandler(&mockJobService{}, "videos")

	for _, body := range []map[string]string{
		{"distorted_key": "dist.mp4"},
		{"reference_key": "ref.mp4"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/jobs", body))

		status, code := parseErr(t, rec)
		if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
			t.Errorf("body %v: got %d %s", body, status, code)
		}
	}
}

func TestCreateJobHandler_InvalidJSON(t *testing.T) {
	h := NewCreateJobHandler(&mockJobService{}, "videos")

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte("{nope")))
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("got %d %s", status, code)
	}
}

// --- get ---

func TestGetJobHandler_Found(t *testing.T) {
	mock := &mockJobService{getFn: func(id, bucket string) (*models.Job, error) {
		return &models.Job{ID: id, Bucket: bucket, Status: models.JobStatusRunning}, nil
	}}
	h := NewGetJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1", nil), "j1")
	h.ServeHTTP(rec, r)

	data := parseData(t, rec, http.StatusOK)
	if data["id"] != "j1" || data["status"] != "running" {
		t.Errorf("unexpected body: %v", data)
	}
	if data["bucket"] != "videos" {
		t.Errorf("default bucket not used for lookup: %v", data["bucket"])
	}
}

func TestGetJobHandler_BucketQueryParam(t *testing.T) {
	var gotBucket string
	mock := &mockJobService{getFn: func(id, bucket string) (*models.Job, error) {
		gotBucket = bucket
		return &models.Job{ID: id}, nil
	}}
	h := NewGetJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1?bucket=archive", nil), "j1")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotBucket != "archive" {
		t.Errorf("bucket query param ignored: %q", gotBucket)
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	mock := &mockJobService{getFn: func(_, _ string) (*models.Job, error) {
		return nil, orchestrator.ErrJobNotFound
	}}
	h := NewGetJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil), "nope")
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "JOB_NOT_FOUND" {
		t.Errorf("got %d %s", status, code)
	}
}

// --- results ---

func TestJobResultsHandler_Completed(t *testing.T) {
	mock := &mockJobService{resultsFn: func(id, _ string) (*orchestrator.JobResults, error) {
		return &orchestrator.JobResults{
			JobID:  id,
			Status: models.JobStatusCompleted,
			Report: &models.Report{PrimaryMetric: "vmaf_hd", PrimaryScore: 91.2},
		}, nil
	}}
	h := NewJobResultsHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/results", nil), "j1")
	h.ServeHTTP(rec, r)

	data := parseData(t, rec, http.StatusOK)
	report := data["report"].(map[string]any)
	if report["primary_metric"] != "vmaf_hd" {
		t.Errorf("unexpected report: %v", report)
	}
}

func TestJobResultsHandler_Pending(t *testing.T) {
	mock := &mockJobService{resultsFn: func(id, _ string) (*orchestrator.JobResults, error) {
		return &orchestrator.JobResults{JobID: id, Status: models.JobStatusRunning}, nil
	}}
	h := NewJobResultsHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/results", nil), "j1")
	h.ServeHTTP(rec, r)

	data := parseData(t, rec, http.StatusOK)
	if data["status"] != "running" {
		t.Errorf("unexpected body: %v", data)
	}
	if _, hasReport := data["report"]; hasReport {
		t.Error("pending results must omit the report")
	}
}

// --- raw ---

func TestRawReportHandler_Passthrough(t *testing.T) {
	raw := []byte(`{"pooled_metrics":{}}`)
	mock := &mockJobService{rawFn: func(_, _ string) ([]byte, string, error) {
		return raw, "task-1.json", nil
	}}
	h := NewRawReportHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/results/raw", nil), "j1")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != string(raw) {
		t.Error("raw body must pass through unmodified")
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="task-1.json"` {
		t.Errorf("unexpected disposition: %s", got)
	}
}

func TestRawReportHandler_NotCompleted(t *testing.T) {
	mock := &mockJobService{rawFn: func(_, _ string) ([]byte, string, error) {
		return nil, "", orchestrator.ErrJobNotCompleted
	}}
	h := NewRawReportHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/results/raw", nil), "j1")
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "JOB_NOT_COMPLETED" {
		t.Errorf("got %d %s", status, code)
	}
}

func TestRawReportHandler_ReportMissing(t *testing.T) {
	mock := &mockJobService{rawFn: func(_, _ string) ([]byte, string, error) {
		return nil, "", store.ErrNotFound
	}}
	h := NewRawReportHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/results/raw", nil), "j1")
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "REPORT_NOT_FOUND" {
		t.Errorf("got %d %s", status, code)
	}
}

// --- list ---

func TestListJobsHandler(t *testing.T) {
	mock := &mockJobService{listFn: func(_ string) []models.Job {
		return []models.Job{{ID: "j2"}, {ID: "j1"}}
	}}
	h := NewListJobsHandler(mock, "videos")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 || env.Data[0]["id"] != "j2" {
		t.Errorf("unexpected list: %v", env.Data)
	}
}

// --- delete ---

func TestDeleteJobHandler_Success(t *testing.T) {
	var gotID string
	mock := &mockJobService{deleteFn: func(id, _ string) error {
		gotID = id
		return nil
	}}
	h := NewDeleteJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/j1", nil), "j1")
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if gotID != "j1" {
		t.Errorf("wrong id passed: %q", gotID)
	}
}

func TestDeleteJobHandler_Failure(t *testing.T) {
	mock := &mockJobService{deleteFn: func(_, _ string) error {
		return errors.New("boom")
	}}
	h := NewDeleteJobHandler(mock, "videos")

	rec := httptest.NewRecorder()
	r := withJobID(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/j1", nil), "j1")
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusInternalServerError || code != "INTERNAL_ERROR" {
		t.Errorf("got %d %s", status, code)
	}
}
