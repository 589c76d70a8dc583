package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/middleware"
)

// Health reports liveness plus the driver's UI preflight. Unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ui := h.drv.Health(ctx)
	JSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"ready":        ui.OK,
		"mode":         h.cfg.Mode,
		"queueDepth":   h.queue.Depth(),
		"version":      h.version,
		"uiAutomation": ui,
	})
}

// Models lists the single fixed model id.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       ModelID,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "openai",
		}},
	})
}

// Conversations lists sidebar conversation titles through the FIFO queue so
// it never interleaves with a running ask.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFrom(r.Context())
	result, err := h.queue.Add(r.Context(), "get_conversations", func(ctx context.Context) (any, error) {
		return h.drv.Conversations(ctx, requestID)
	})
	if err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}
	titles, _ := result.([]string)
	if titles == nil {
		titles = []string{}
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": titles})
}

// Sessions dumps the binding table. Read-only; useful for operators checking
// slot state.
func (h *Handler) Sessions(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"mode":     string(h.router.Mode()),
		"bindings": h.router.Store().All(),
	})
}

// DeleteSession removes one slot binding.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	slot := h.router.NormalizeSlot(chi.URLParam(r, "slot"))
	existed, err := h.router.Store().Delete(slot)
	if err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"slot": slot, "deleted": existed})
}
