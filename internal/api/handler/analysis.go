package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/windops/internal/analysis"
	mw "github.com/kiranshivaraju/windops/internal/api/middleware"
	"github.com/kiranshivaraju/windops/internal/api/response"
	"github.com/kiranshivaraju/windops/internal/jobs"
	"github.com/kiranshivaraju/windops/pkg/models"
)

const (
	busyRetryAfter = 5 * time.Second
	maxParamsBytes = 64 << 10
)

// Executor is the part of jobs.Executor the submission handler needs.
type Executor interface {
	TryAcquire(req models.JobRequest) (*jobs.Lease, bool)
	Submit(l *jobs.Lease) <-chan jobs.Outcome
}

// StatusReader is the read side of jobs.StatusStore.
type StatusReader interface {
	Status() models.AnalysisStatus
	LastResult() (models.ResultEnvelope, error)
}

// DatasetChecker reports whether an analysis has the datasets it needs.
type DatasetChecker interface {
	RequiredDatasetsReady(kind models.AnalysisKind) models.Readiness
}

type busyDetails struct {
	Busy            bool                 `json:"busy"`
	CurrentAnalysis *models.AnalysisKind `json:"current_analysis"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/analysis/{kind}.
// It waits up to wait for the job. When the wait elapses it answers 504 with
// no body and the job keeps running.
func NewSubmitHandler(exec Executor, status StatusReader, data DatasetChecker, wait time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := models.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "UNKNOWN_ANALYSIS", err.Error(), nil)
			return
		}

		raw, err := decodeParams(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be a JSON object", nil)
			return
		}
		params, err := analysis.Normalize(kind, raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error(), nil)
			return
		}

		if ready := data.RequiredDatasetsReady(kind); !ready.Ready {
			response.Error(w, http.StatusBadRequest, "DATASETS_MISSING",
				"Required datasets are not loaded", ready)
			return
		}

		req := models.JobRequest{Kind: kind, Params: params, RequestID: mw.GetRequestID(r)}
		lease, ok := exec.TryAcquire(req)
		if !ok {
			st := status.Status()
			response.Busy(w, busyRetryAfter, jobs.ErrBusy.Error(),
				busyDetails{Busy: true, CurrentAnalysis: st.CurrentAnalysis, StartedAt: st.StartedAt})
			return
		}

		outcome := exec.Submit(lease)
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case out := <-outcome:
			writeOutcome(w, out)
		case <-timer.C:
			slog.Info("submit wait elapsed, job continues in background",
				"job_id", lease.JobID(), "analysis", kind, "wait", wait.String())
			response.Status(w, http.StatusGatewayTimeout)
		case <-r.Context().Done():
			slog.Info("client disconnected, job continues in background",
				"job_id", lease.JobID(), "analysis", kind)
		}
	}
}

func writeOutcome(w http.ResponseWriter, out jobs.Outcome) {
	if out.Err == nil {
		response.JSON(w, out.Envelope)
		return
	}
	var f *jobs.Failure
	if errors.As(out.Err, &f) {
		response.Error(w, http.StatusInternalServerError, "ANALYSIS_FAILED", f.Message, nil)
		return
	}
	slog.Error("job outcome without failure record", "error", out.Err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}

// decodeParams reads the optional JSON object body. An empty body means
// all defaults.
func decodeParams(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxParamsBytes {
		return nil, errors.New("body too large")
	}
	params := map[string]any{}
	if len(body) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/analysis/status.
func NewStatusHandler(status StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, status.Status())
	}
}

// NewLastResultHandler returns an http.HandlerFunc for GET /api/v1/analysis/last-result.
func NewLastResultHandler(status StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		env, err := status.LastResult()
		if errors.Is(err, jobs.ErrNoResult) {
			response.Error(w, http.StatusNotFound, "NO_RESULT", "No analysis result available", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, env)
	}
}
