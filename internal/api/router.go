package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/calebsch/vqhub/internal/api/middleware"
	"github.com/calebsch/vqhub/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJobHandler  http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	DeleteJobHandler  http.HandlerFunc
	JobResultsHandler http.HandlerFunc
	RawReportHandler  http.HandlerFunc

	ListAssetsHandler    http.HandlerFunc
	PresignUploadHandler http.HandlerFunc
	DeleteAssetHandler   http.HandlerFunc
	CreateBucketHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJobHandler))
		r.Get("/api/v1/jobs/{jobID}/results", orNotImplemented(deps.JobResultsHandler))
		r.Get("/api/v1/jobs/{jobID}/results/raw", orNotImplemented(deps.RawReportHandler))

		r.Get("/api/v1/assets", orNotImplemented(deps.ListAssetsHandler))
		r.Post("/api/v1/assets/presign", orNotImplemented(deps.PresignUploadHandler))
		r.Delete("/api/v1/assets", orNotImplemented(deps.DeleteAssetHandler))

		r.Post("/api/v1/buckets", orNotImplemented(deps.CreateBucketHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
