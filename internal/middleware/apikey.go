package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const apiKeyContextKey = contextKey("api-key")

// APIKey authenticates requests via the X-API-Key header against the
// configured key set. With no keys configured, authentication is open.
func APIKey(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-API-Key")
			for _, key := range keys {
				if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
					ctx := context.WithValue(r.Context(), apiKeyContextKey, presented)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid or missing API key"})
		})
	}
}

// GetAPIKey extracts the authenticated API key from the context.
// Returns empty string if the request was unauthenticated.
func GetAPIKey(ctx context.Context) string {
	if key, ok := ctx.Value(apiKeyContextKey).(string); ok {
		return key
	}
	return ""
}
