package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "bridge.request_id"

const maxRequestIDLen = 128

// RequestIDFrom returns the request id assigned by BridgeHeaders.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// wellFormedRequestID accepts client-provided ids that are safe to echo.
func wellFormedRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// BridgeHeaders assigns the request id (echoing a well-formed client
// x-request-id, generating one otherwise) and stamps the bridge response
// headers. The context-reset header defaults to "0" on every response,
// including auth failures; handlers overwrite it when a reset was observed.
func BridgeHeaders(version string, resetStrict bool, queueDepth func() int) func(http.Handler) http.Handler {
	strict := "0"
	if resetStrict {
		strict = "1"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("x-request-id")
			if !wellFormedRequestID(id) {
				id = uuid.NewString()
			}

			h := w.Header()
			h.Set("x-bridge-request-id", id)
			h.Set("x-bridge-version", version)
			h.Set("x-bridge-context-reset", "0")
			h.Set("x-bridge-reset-strict", strict)
			h.Set("x-bridge-session-slot", "")
			h.Set("x-bridge-conversation-id", "")
			if queueDepth != nil {
				h.Set("x-bridge-queue-depth", strconv.Itoa(queueDepth()))
			}

			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
