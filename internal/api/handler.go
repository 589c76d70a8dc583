// Package api provides the bridge's HTTP surface.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ocbridge/internal/admission"
	"ocbridge/internal/audit"
	"ocbridge/internal/config"
	"ocbridge/internal/driver"
	"ocbridge/internal/idempotency"
	"ocbridge/internal/metrics"
	"ocbridge/internal/middleware"
	"ocbridge/internal/ratelimit"
	"ocbridge/internal/session"
)

// Handler owns the endpoint implementations and their dependencies.
type Handler struct {
	cfg     *config.Config
	drv     driver.Driver
	gate    *admission.Gate
	queue   *admission.Queue
	router  *session.Router
	bucket  *ratelimit.TokenBucket
	idem    idempotency.Store
	auditor *audit.Logger
	metrics *metrics.Metrics
	secret  []byte
	version string
}

// NewHandler creates a Handler. bucket and idem may be nil when the
// corresponding feature is disabled.
func NewHandler(
	cfg *config.Config,
	drv driver.Driver,
	gate *admission.Gate,
	queue *admission.Queue,
	router *session.Router,
	bucket *ratelimit.TokenBucket,
	idem idempotency.Store,
	auditor *audit.Logger,
	m *metrics.Metrics,
	secret []byte,
	version string,
) *Handler {
	return &Handler{
		cfg:     cfg,
		drv:     drv,
		gate:    gate,
		queue:   queue,
		router:  router,
		bucket:  bucket,
		idem:    idem,
		auditor: auditor,
		metrics: m,
		secret:  secret,
		version: version,
	}
}

// Routes builds the router with the full middleware stack.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(h.cfg.CORSOrigins))
	r.Use(middleware.BridgeHeaders(h.version, h.cfg.UI.ResetStrict, h.queue.Depth))
	r.Use(h.observe)

	r.Get("/health", h.Health)
	r.Get("/metrics", h.metrics.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(h.cfg.Token))
		r.Get("/v1/models", h.Models)
		r.Post("/v1/chat/completions", h.ChatCompletions)
		r.Get("/v1/bridge/conversations", h.Conversations)
		r.Get("/v1/bridge/sessions", h.Sessions)
		r.Delete("/v1/bridge/sessions/{slot}", h.DeleteSession)
	})

	return r
}

// observe records one metrics sample and one audit line per request.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		// Sampled before the handler so a /metrics scrape sees the depth
		// including requests currently in flight.
		h.metrics.QueueDepth.Set(float64(h.queue.Depth()))
		next.ServeHTTP(ww, r)

		h.metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(ww.Status())).Inc()
		h.auditor.Log(audit.Event{
			Event:     "http_request",
			RequestID: middleware.RequestIDFrom(r.Context()),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    ww.Status(),
			Headers: map[string]string{
				"Authorization":   r.Header.Get("Authorization"),
				"Content-Type":    r.Header.Get("Content-Type"),
				"Idempotency-Key": r.Header.Get("Idempotency-Key"),
			},
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// fingerprint identifies a completion request for single-flight coalescing
// and idempotency replay. The marker is excluded so retried requests with
// fresh request ids still coalesce.
func fingerprint(promptText string, mode session.Mode, res session.Resolution) string {
	sum := sha256.New()
	for _, part := range []string{promptText, string(mode), res.Slot, res.ConversationID, strconv.FormatBool(res.StrictOpen)} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}
