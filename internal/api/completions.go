package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ocbridge/internal/admission"
	"ocbridge/internal/audit"
	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/driver"
	"ocbridge/internal/filecontext"
	"ocbridge/internal/idempotency"
	"ocbridge/internal/marker"
	"ocbridge/internal/middleware"
	"ocbridge/internal/prompt"
)

// askOutcome is what the admitted single-flight task produces. Joined
// duplicates receive the same value, so both callers emit byte-identical
// bodies.
type askOutcome struct {
	result     driver.AskResult
	completion ChatCompletion
	body       []byte
}

// ChatCompletions runs the full pipeline: limiter, body cap, schema parse,
// routing, prompt rendering, file context, marker append, single-flight
// admission, UI ask, response shaping.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFrom(r.Context())

	if h.bucket != nil {
		if ok, retryAfter := h.bucket.Allow(); !ok {
			bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodeQueueFull,
				"local rate limit exceeded").WithRetryAfter(retryAfter))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.auditor.Log(audit.Event{
				Event:     "body_limit_exceeded",
				RequestID: requestID,
				Method:    r.Method,
				Path:      r.URL.Path,
				Status:    http.StatusRequestEntityTooLarge,
				Meta:      map[string]any{"limit_bytes": mbe.Limit},
			})
			bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodePromptTooLarge,
				"request body exceeds the configured byte limit").
				WithStatus(http.StatusRequestEntityTooLarge))
			return
		}
		bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodeInvalidRequest, "failed to read request body"))
		return
	}

	var req ChatCompletionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodeInvalidRequest, "request body is not valid JSON"))
		return
	}
	if len(req.Messages) == 0 {
		bridgeerr.WriteHTTP(w, bridgeerr.New(bridgeerr.CodeInvalidRequest, "messages is required"))
		return
	}

	msgs := toPromptMessages(req.Messages)
	if err := prompt.ValidateSizes(msgs, h.cfg.MaxMessageChars); err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}

	res, err := h.router.Resolve(req.SessionKey, req.ConversationID)
	if err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}
	w.Header().Set("x-bridge-session-slot", res.Slot)
	w.Header().Set("x-bridge-conversation-id", res.ConversationID)

	rendered, err := prompt.Render(msgs)
	if err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}

	// Control prompts never reach the UI.
	if prompt.IsAnnounce(rendered) {
		completion := newCompletion(requestID, rendered, prompt.AnnounceSkipText)
		if req.Stream {
			h.stream(w, r, completion)
			return
		}
		JSON(w, http.StatusOK, completion)
		return
	}

	promptText, diags, err := h.expandFileContext(rendered, req.BridgeFiles)
	if err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}

	if err := prompt.ValidatePromptSize(promptText, h.cfg.MaxPromptChars); err != nil {
		bridgeerr.WriteHTTP(w, err)
		return
	}

	mark := marker.Build(requestID, h.secret)
	fullPrompt := marker.Append(promptText, mark)
	fp := fingerprint(promptText, h.router.Mode(), res)

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if h.idem != nil && idemKey != "" {
		if cached, err := h.idem.Get(r.Context(), idemKey, fp); err == nil && cached != nil {
			h.metrics.IdempotentReplay.Inc()
			w.Header().Set("x-bridge-idempotent-replay", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	// Preflight: fail fast before taking the single-flight slot.
	if ui := h.drv.Health(r.Context()); !ui.OK {
		code := bridgeerr.Code(ui.Code)
		if code == "" {
			code = bridgeerr.CodeUnknown
		}
		bridgeerr.WriteHTTP(w, bridgeerr.New(code, ui.Message))
		return
	}

	askReq := driver.AskRequest{
		Prompt:           fullPrompt,
		Marker:           mark,
		RequestID:        requestID,
		ConversationID:   res.ConversationID,
		StrictOpen:       res.StrictOpen,
		ResetEachRequest: h.cfg.UI.ResetEachRequest,
		ResetStrict:      h.cfg.UI.ResetStrict,
	}

	start := time.Now()
	value, err, _ := h.gate.Do(r.Context(), fp, "ask", func(ctx context.Context) (any, error) {
		h.auditor.Log(audit.Event{
			Event:     "prompt_send",
			RequestID: requestID,
			Body:      fullPrompt,
			Meta: map[string]any{
				"slot":            res.Slot,
				"conversation_id": res.ConversationID,
				"routing_mode":    string(h.router.Mode()),
				"file_context":    diags,
			},
		})
		result, askErr := h.drv.Ask(ctx, askReq)
		if askErr != nil {
			return nil, askErr
		}
		completion := newCompletion(requestID, promptText, result.Text)
		body, mErr := json.Marshal(completion)
		if mErr != nil {
			return nil, mErr
		}
		return askOutcome{result: result, completion: completion, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, admission.ErrBusy) {
			err = bridgeerr.New(bridgeerr.CodePreviousResponsePending,
				"a UI job is already running; retry after it settles")
		}
		be := bridgeerr.Wrap(err)
		if be.ContextReset != nil {
			w.Header().Set("x-bridge-context-reset", strconv.Itoa(*be.ContextReset))
		}
		h.metrics.ObserveAsk(string(be.Code), time.Since(start))
		if req.Stream {
			h.streamError(w, be)
			return
		}
		bridgeerr.WriteHTTP(w, be)
		return
	}
	outcome := value.(askOutcome)
	h.metrics.ObserveAsk("ok", time.Since(start))

	w.Header().Set("x-bridge-context-reset", strconv.Itoa(outcome.result.ContextReset))
	if opened := outcome.result.OpenedConversationID; opened != "" {
		w.Header().Set("x-bridge-conversation-id", opened)
	}
	h.router.Commit(res, outcome.result.OpenedConversationID)

	if req.Stream {
		h.stream(w, r, outcome.completion)
		return
	}

	if h.idem != nil && idemKey != "" {
		if putErr := h.idem.Put(r.Context(), idemKey, fp, idempotency.CachedResponse{
			Status: http.StatusOK,
			Body:   outcome.body,
		}); putErr != nil {
			// Replay is best-effort; the live response still goes out.
			h.auditor.Log(audit.Event{
				Event:     "idempotency_put_failed",
				RequestID: requestID,
				Meta:      map[string]any{"error": putErr.Error()},
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(outcome.body)
}

// expandFileContext consumes a terminal [BRIDGE_FILES] block and merges it
// with body-provided refs, then expands into the [FILE_CONTEXT] section.
func (h *Handler) expandFileContext(rendered string, bodyRefs []filecontext.FileRef) (string, filecontext.Diagnostics, error) {
	block, err := filecontext.ScanBlock(rendered)
	if err != nil {
		return "", block.Diags, err
	}
	refs := append(block.Refs, bodyRefs...)
	if len(refs) == 0 {
		return block.Prompt, block.Diags, nil
	}

	lim := filecontext.Limits{
		Enabled:       h.cfg.FileContext.Enabled,
		AllowedRoots:  h.cfg.FileContext.AllowedRoots,
		MaxFiles:      h.cfg.FileContext.MaxFiles,
		MaxFileChars:  h.cfg.FileContext.MaxFileChars,
		MaxTotalChars: h.cfg.FileContext.MaxTotalChars,
	}
	expanded, err := filecontext.Expand(block.Prompt, refs, lim, &block.Diags)
	if err != nil {
		return "", block.Diags, err
	}
	return expanded, block.Diags, nil
}
