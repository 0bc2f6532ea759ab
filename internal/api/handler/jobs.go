package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/internal/api/response"
	"github.com/kiranshivaraju/windops/internal/store"
	"github.com/kiranshivaraju/windops/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// JobReader is the read side of the job history store.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/analysis/jobs.
func NewListJobsHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{Page: 1, Limit: defaultPageLimit}

		if v := q.Get("kind"); v != "" {
			kind, err := models.ParseKind(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			filter.Kind = kind
		}
		if v := q.Get("status"); v != "" {
			switch v {
			case models.JobStatusRunning, models.JobStatusCompleted, models.JobStatusFailed:
				filter.Status = v
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be one of running, completed, failed", nil)
				return
			}
		}
		if v := q.Get("page"); v != "" {
			page, err := strconv.Atoi(v)
			if err != nil || page < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
			filter.Page = page
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = min(limit, maxPageLimit)
		}

		list, total, err := jobs.ListJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}

		response.Collection(w, list, response.Page(filter.Page, filter.Limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/analysis/jobs/{jobID}.
func NewGetJobHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		job, err := jobs.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		response.JSON(w, job)
	}
}
