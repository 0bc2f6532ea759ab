// Package response writes the JSON envelopes of the WindOps API:
// {"data": ...} on success, {"data": [...], "meta": {...}} for job history
// pages and {"error": {code, message, details}} on failure.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// Page builds the meta block for a 1-based page of limit items out of total.
func Page(page, limit, total int) PaginationMeta {
	return PaginationMeta{Page: page, Limit: limit, Total: total, HasNext: page*limit < total}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// Busy rejects a submission because the execution slot is taken. Clients
// read Retry-After to decide when to try again.
func Busy(w http.ResponseWriter, retryAfter time.Duration, message string, details any) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	Error(w, http.StatusTooManyRequests, "BUSY", message, details)
}

// Status writes a bare status code with no body.
func Status(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; the client sees a truncated body.
		slog.Debug("writing response failed", "status", status, "error", err)
	}
}
