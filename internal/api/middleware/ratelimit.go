package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/windops/internal/api/response"
	"github.com/kiranshivaraju/windops/internal/cache"
)

const (
	defaultRequestsPerMinute = 120
	rateWindow               = time.Minute
)

// RateLimit counts requests per client in fixed one-minute windows aligned
// to the wall clock, so every replica agrees on when a window resets.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit counts requests per key prefix set by the auth middleware, falling
// back to the remote IP when auth is disabled.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := getKeyPrefix(r)
		if !ok {
			identity = remoteIP(r)
		}

		now := rl.now()
		start := now.Truncate(rateWindow)
		reset := start.Add(rateWindow)

		// The counter outlives its window by a second to absorb clock skew
		// between replicas.
		key := cache.RateLimitKey(identity, start)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, reset.Sub(now)+time.Second)
		if err != nil {
			// Fail open.
			slog.Warn("rate limit counter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retry := int(math.Ceil(reset.Sub(now).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			slog.Info("rate limit exceeded", "identity", identity, "count", count)
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
