package cache

import (
	"fmt"
	"time"
)

// RateLimitKey scopes a rate-limit counter to a client identity and the
// start of its window. The identity is the API key prefix when auth is
// enabled, otherwise the remote IP.
func RateLimitKey(identity string, window time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", identity, window.Unix())
}

// EngineHealthKey holds the last analysis engine probe result.
func EngineHealthKey(engine string) string {
	return fmt.Sprintf("engine:health:%s", engine)
}
