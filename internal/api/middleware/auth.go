package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/windops/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth checks bearer tokens against a single bcrypt hash. With an empty hash
// every request is let through unauthenticated.
type Auth struct {
	hash []byte
}

// NewAuth creates a new Auth middleware. keyHash is a bcrypt hash of the
// shared API token, or empty to disable authentication.
func NewAuth(keyHash string) *Auth {
	a := &Auth{}
	if keyHash != "" {
		a.hash = []byte(keyHash)
	}
	return a
}

// Enabled reports whether requests must carry a token.
func (a *Auth) Enabled() bool { return len(a.hash) > 0 }

// Authenticate validates the Bearer token and sets key_prefix in the request
// context for rate limiting.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(rawKey)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		r = r.WithContext(setKeyPrefix(r.Context(), rawKey[:keyPrefixLen]))
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
