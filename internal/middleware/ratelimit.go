package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/eventloom-io/eventloom/internal/ratelimit"
)

// RateLimit applies the limiter keyed by API key, falling back to the
// client IP for unauthenticated requests. Limiter errors fail open so a
// Redis outage cannot take the ingest path down with it.
func RateLimit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetAPIKey(r.Context())
			if key == "" {
				key = clientIP(r)
			}

			ok, err := limiter.Allow(r.Context(), key)
			if err == nil && !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
