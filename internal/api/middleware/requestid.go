package middleware

import (
	"net/http"
	"strings"
)

// RequestIDHeader carries the client generated correlation token of a run.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID copies a well-formed X-Request-ID header into the request
// context and echoes it on the response. Malformed values are dropped.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if validRequestID(id) {
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(setRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
