package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/windops/internal/api/middleware"
	"github.com/kiranshivaraju/windops/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler     http.HandlerFunc
	SubmitHandler     http.HandlerFunc
	StatusHandler     http.HandlerFunc
	LastResultHandler http.HandlerFunc
	ListJobsHandler   http.HandlerFunc
	GetJobHandler     http.HandlerFunc
	DataStatusHandler http.HandlerFunc
	DataResetHandler  http.HandlerFunc
	UploadHandler     http.HandlerFunc
	TemplatesHandler  http.HandlerFunc
	PlantHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.RequestID)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// Status polling is exempt from rate limiting so a waiting client
		// is never locked out of its own result.
		r.Get("/api/v1/analysis/status", orNotImplemented(deps.StatusHandler))
		r.Get("/api/v1/analysis/last-result", orNotImplemented(deps.LastResultHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/analysis/{kind}", orNotImplemented(deps.SubmitHandler))
			r.Get("/api/v1/analysis/jobs", orNotImplemented(deps.ListJobsHandler))
			r.Get("/api/v1/analysis/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

			r.Get("/api/v1/data/status", orNotImplemented(deps.DataStatusHandler))
			r.Get("/api/v1/data/templates", orNotImplemented(deps.TemplatesHandler))
			r.Post("/api/v1/data/reset", orNotImplemented(deps.DataResetHandler))
			r.Post("/api/v1/data/upload/{dataset}", orNotImplemented(deps.UploadHandler))

			r.Get("/api/v1/plant/summary", orNotImplemented(deps.PlantHandler))
		})
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
