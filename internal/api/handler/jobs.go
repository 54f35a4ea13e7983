package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calebsch/vqhub/internal/api/response"
	"github.com/calebsch/vqhub/internal/orchestrator"
	"github.com/calebsch/vqhub/internal/store"
	"github.com/calebsch/vqhub/pkg/models"
)

// JobService defines the orchestration interface the job handlers depend on.
type JobService interface {
	Create(ctx context.Context, params orchestrator.CreateParams) (*models.Job, error)
	Get(ctx context.Context, id, bucket string) (*models.Job, error)
	Results(ctx context.Context, id, bucket string) (*orchestrator.JobResults, error)
	Raw(ctx context.Context, id, bucket string) ([]byte, string, error)
	List(ctx context.Context, bucket string) []models.Job
	Delete(ctx context.Context, id, bucket string) error
}

// bucketParam resolves the bucket a request operates on: the ?bucket= query
// parameter when present, otherwise the configured default.
func bucketParam(r *http.Request, defaultBucket string) string {
	if b := r.URL.Query().Get("bucket"); b != "" {
		return b
	}
	return defaultBucket
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Bucket       string `json:"bucket"`
			ReferenceKey string `json:"reference_key"`
			DistortedKey string `json:"distorted_key"`
			Folder       string `json:"folder"`
			Description  string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.ReferenceKey == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "reference_key is required", nil)
			return
		}
		if req.DistortedKey == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "distorted_key is required", nil)
			return
		}

		bucket := req.Bucket
		if bucket == "" {
			bucket = defaultBucket
		}

		job, err := svc.Create(r.Context(), orchestrator.CreateParams{
			Bucket:       bucket,
			ReferenceKey: req.ReferenceKey,
			DistortedKey: req.DistortedKey,
			Folder:       req.Folder,
			Description:  req.Description,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create job", nil)
			return
		}

		response.Accepted(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		job, err := svc.Get(r.Context(), id, bucketParam(r, defaultBucket))
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewJobResultsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/results.
func NewJobResultsHandler(svc JobService, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		res, err := svc.Results(r.Context(), id, bucketParam(r, defaultBucket))
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, res)
	}
}

// NewRawReportHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/results/raw. The report bytes pass through
// unmodified as a file download.
func NewRawReportHandler(svc JobService, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		raw, filename, err := svc.Raw(r.Context(), id, bucketParam(r, defaultBucket))
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Attachment(w, filename, "application/json", raw)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := svc.List(r.Context(), bucketParam(r, defaultBucket))
		response.JSON(w, jobs)
	}
}

// NewDeleteJobHandler returns an http.HandlerFunc for
// DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService, defaultBucket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		if err := svc.Delete(r.Context(), id, bucketParam(r, defaultBucket)); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to delete job", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, orchestrator.ErrJobNotCompleted):
		response.Error(w, http.StatusBadRequest, "JOB_NOT_COMPLETED",
			"Job has not completed yet", nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND",
			"Report object not found in storage", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
