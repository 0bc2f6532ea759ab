package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/windops/internal/api/response"
	"github.com/kiranshivaraju/windops/internal/dataset"
	"github.com/kiranshivaraju/windops/pkg/models"
)

// multipart parts above this size spill to disk.
const uploadMemory = 32 << 20

// NewDataStatusHandler returns an http.HandlerFunc for GET /api/v1/data/status.
func NewDataStatusHandler(m *dataset.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, m.Status())
	}
}

// NewTemplatesHandler returns an http.HandlerFunc for
// GET /api/v1/data/templates.
func NewTemplatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, dataset.Templates())
	}
}

// NewPlantSummaryHandler returns an http.HandlerFunc for
// GET /api/v1/plant/summary.
func NewPlantSummaryHandler(m *dataset.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sum, err := m.Summary()
		if errors.Is(err, dataset.ErrNoData) {
			response.Error(w, http.StatusNotFound, "NO_DATA", "No plant data loaded", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to summarise plant", nil)
			return
		}
		response.JSON(w, sum)
	}
}

// NewDataResetHandler returns an http.HandlerFunc for POST /api/v1/data/reset.
// A running analysis is not affected; its result is tagged with the source
// current when it completes.
func NewDataResetHandler(m *dataset.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.ResetToDemo()
		slog.Info("datasets reset to demo")
		response.JSON(w, m.Status())
	}
}

// NewUploadHandler returns an http.HandlerFunc for
// POST /api/v1/data/upload/{dataset}. The multipart field "file" must hold a
// non-empty .csv file of at most maxBytes.
func NewUploadHandler(m *dataset.Manager, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dt := models.DatasetType(chi.URLParam(r, "dataset"))

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(uploadMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
					"Upload exceeds the configured size limit", map[string]int64{"max_bytes": maxBytes})
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart/form-data body", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing form field \"file\"", nil)
			return
		}
		defer file.Close()

		if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
			response.Error(w, http.StatusBadRequest, "INVALID_FILE", "Only .csv files are accepted", nil)
			return
		}

		info, err := m.Upload(dt, file)
		if err != nil {
			switch {
			case errors.Is(err, dataset.ErrUnknownDataset):
				response.Error(w, http.StatusNotFound, "UNKNOWN_DATASET", err.Error(), models.DatasetTypes())
			case errors.Is(err, dataset.ErrEmptyDataset), errors.Is(err, dataset.ErrMalformedCSV):
				response.Error(w, http.StatusBadRequest, "INVALID_FILE", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read upload", nil)
			}
			return
		}

		slog.Info("dataset uploaded", "dataset", dt, "rows", info.Rows, "file", header.Filename)
		response.Created(w, info)
	}
}
