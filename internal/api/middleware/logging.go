package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseRecorder remembers what a handler has written. Logger and Recovery
// share one instance per request.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func record(w http.ResponseWriter) *responseRecorder {
	if rec, ok := w.(*responseRecorder); ok {
		return rec
	}
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger writes one line per request. Submissions can hold a connection for
// many minutes, so the duration is logged in seconds as well.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if elapsed >= time.Minute {
			attrs = append(attrs, "duration", elapsed.Round(time.Second).String())
		}
		// RequestID runs inside Logger and echoes accepted IDs on the response.
		if id := rec.Header().Get(RequestIDHeader); id != "" {
			attrs = append(attrs, "request_id", id)
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			slog.Warn("request", attrs...)
		case r.URL.Path == "/api/v1/health" || r.URL.Path == "/api/v1/analysis/status":
			// Polled constantly by clients and probes.
			slog.Debug("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	})
}
