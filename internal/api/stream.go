package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ocbridge/internal/bridgeerr"
)

func sseHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// stream emits the fixed frame sequence for a finished completion: role
// delta, one full-content delta, then [DONE]. The UI gives no incremental
// tokens, so the content arrives as a single frame.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, completion ChatCompletion) {
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	write := func(payload any) bool {
		// A disconnected client stops frame writes; the UI task already
		// settled and is unaffected.
		select {
		case <-r.Context().Done():
			return false
		default:
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	base := ChatCompletionChunk{
		ID:      completion.ID,
		Object:  "chat.completion.chunk",
		Created: completion.Created,
		Model:   completion.Model,
	}

	role := base
	role.Choices = []chunkChoice{{Index: 0, Delta: chunkDelta{Role: "assistant"}, FinishReason: nil}}
	if !write(role) {
		return
	}

	stop := "stop"
	content := base
	content.Choices = []chunkChoice{{
		Index:        0,
		Delta:        chunkDelta{Content: completion.Choices[0].Message.Content},
		FinishReason: &stop,
	}}
	if !write(content) {
		return
	}

	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// streamError sends a single error frame and closes without [DONE].
func (h *Handler) streamError(w http.ResponseWriter, be *bridgeerr.Error) {
	sseHeaders(w)
	w.Header().Set("x-should-retry", "false")
	w.WriteHeader(http.StatusOK)

	payload := map[string]any{
		"error": map[string]any{
			"message": be.Message,
			"type":    "api_error",
			"code":    string(be.Code),
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
