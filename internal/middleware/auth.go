package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"ocbridge/internal/bridgeerr"
)

// BearerAuth enforces the shared-secret bearer token. An empty token
// disables auth entirely (local tool, loopback bind).
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, presented, found := strings.Cut(r.Header.Get("Authorization"), " ")
			if !found || !strings.EqualFold(scheme, "Bearer") {
				bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodeUnauthorized, "missing bearer token"))
				return
			}
			presented = strings.TrimSpace(presented)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodeUnauthorized, "invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
