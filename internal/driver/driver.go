// Package driver translates one admitted request into a UI transaction
// against the chat app: preflight, optional reset, conversation open, focus,
// paste, submit, poll. The OS-level primitives live behind the Automation
// contract; this package owns the orchestration and its failure
// classification.
package driver

import (
	"context"
	"log/slog"
	"time"

	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/poll"
)

// Health is the driver's health probe result.
type Health struct {
	OK            bool   `json:"ok"`
	Accessibility string `json:"accessibility"` // granted | denied | unknown
	AppRunning    *bool  `json:"app_running"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// AskRequest carries one prompt into the UI. Prompt already ends with the
// marker line.
type AskRequest struct {
	Prompt           string
	Marker           string
	RequestID        string
	ConversationID   string
	StrictOpen       bool
	ResetEachRequest bool
	ResetStrict      bool
}

// AskResult is a successful UI transaction.
type AskResult struct {
	Text                 string
	ContextReset         int
	OpenedConversationID string
	ExtractionMode       string
}

// Driver is the contract the core depends on. UIDriver is the production
// implementation; tests substitute fakes.
type Driver interface {
	Health(ctx context.Context) Health
	Ask(ctx context.Context, req AskRequest) (AskResult, error)
	Conversations(ctx context.Context, requestID string) ([]string, error)
}

// UIDriver drives the chat app through an Automation implementation.
type UIDriver struct {
	auto Automation
	cfg  poll.Config
}

// New creates a UIDriver with the given automation backend and poll tuning.
func New(auto Automation, cfg poll.Config) *UIDriver {
	return &UIDriver{auto: auto, cfg: cfg}
}

var _ Driver = (*UIDriver)(nil)

// Health probes app presence and accessibility permission.
func (d *UIDriver) Health(ctx context.Context) Health {
	h := Health{Accessibility: "unknown"}

	if status, err := d.auto.AccessibilityStatus(ctx); err == nil {
		h.Accessibility = status
	}

	running, err := d.auto.AppRunning(ctx)
	if err != nil {
		h.Code = string(bridgeerr.CodeUnknown)
		h.Message = err.Error()
		return h
	}
	h.AppRunning = &running

	switch {
	case h.Accessibility == "denied":
		h.Code = string(bridgeerr.CodeAccessibilityDenied)
		h.Message = "accessibility permission denied"
	case !running:
		h.Code = string(bridgeerr.CodeAppNotRunning)
		h.Message = "chat app is not running"
	default:
		h.OK = true
	}
	return h
}

// Ask performs the full UI transaction and returns the extracted reply.
// Errors carry the observed context-reset flag so handlers can keep the
// reset header truthful on failure.
func (d *UIDriver) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	contextReset := 0
	fail := func(err error) (AskResult, error) {
		return AskResult{}, bridgeerr.Wrap(err).WithContextReset(contextReset)
	}

	if err := d.ensureRunning(ctx); err != nil {
		return fail(err)
	}
	if err := d.ensureWindowAvailable(ctx); err != nil {
		return fail(err)
	}

	if req.ResetEachRequest {
		if err := d.auto.NewChat(ctx); err != nil {
			if req.ResetStrict {
				return fail(bridgeerr.New(bridgeerr.CodeUIResetFailed, "new-chat reset refused").WithCause(err))
			}
			slog.Warn("new-chat reset failed, continuing in active conversation",
				"request_id", req.RequestID, "error", err)
		} else {
			contextReset = 1
		}
	}

	opened := ""
	if req.ConversationID != "" {
		found, err := d.auto.OpenConversation(ctx, req.ConversationID)
		if err != nil {
			return fail(err)
		}
		if !found {
			if req.StrictOpen {
				return fail(bridgeerr.Newf(bridgeerr.CodeConversationNotFound,
					"conversation %q not found in sidebar", req.ConversationID))
			}
			slog.Warn("conversation not found, continuing in active conversation",
				"request_id", req.RequestID, "conversation_id", req.ConversationID)
		} else {
			opened = req.ConversationID
		}
	}

	// Pre-send snapshot doubles as the scrape preflight. Strict extraction
	// never consults it, but a scrape failure here is cheaper than one
	// mid-poll.
	preSnapshot, err := d.scrape(ctx, d.cfg.ScrapeTimeout)
	if err != nil {
		return fail(err)
	}

	if err := d.focusInput(ctx); err != nil {
		return fail(err)
	}

	if err := d.pasteAndSubmit(ctx, req.Prompt); err != nil {
		return fail(err)
	}

	res, err := poll.Run(ctx, scraper{d}, recoverer{d}, req.Prompt, preSnapshot, d.cfg)
	if err != nil {
		return fail(err)
	}

	return AskResult{
		Text:                 res.Text,
		ContextReset:         contextReset,
		OpenedConversationID: opened,
		ExtractionMode:       string(res.Mode),
	}, nil
}

// Conversations lists sidebar conversation titles, ordered and
// deduplicated.
func (d *UIDriver) Conversations(ctx context.Context, requestID string) ([]string, error) {
	if err := d.ensureRunning(ctx); err != nil {
		return nil, bridgeerr.Wrap(err)
	}
	if err := d.ensureWindowAvailable(ctx); err != nil {
		return nil, bridgeerr.Wrap(err)
	}
	titles, err := d.auto.ListConversations(ctx)
	if err != nil {
		return nil, bridgeerr.Wrap(err)
	}

	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	slog.Debug("listed conversations", "request_id", requestID, "count", len(out))
	return out, nil
}

// focusInput walks the focus cascade: accessibility input element, then a
// geometric click near the window bottom, then the keyboard focus cycle.
func (d *UIDriver) focusInput(ctx context.Context) error {
	err := d.auto.FocusInput(ctx)
	if err == nil {
		return nil
	}
	slog.Debug("accessibility focus failed, trying geometric click", "error", err)

	err = d.auto.ClickInputArea(ctx)
	if err == nil {
		return nil
	}
	slog.Debug("geometric click failed, trying keyboard focus cycle", "error", err)

	if err := d.auto.KeyboardFocusCycle(ctx); err != nil {
		return bridgeerr.New(bridgeerr.CodeUIElementNotFound, "could not focus chat input").WithCause(err)
	}
	return nil
}

func (d *UIDriver) scrape(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.auto.Scrape(ctx)
}

// scraper adapts the driver to the poll loop's Scraper contract.
type scraper struct{ d *UIDriver }

func (s scraper) Scrape(ctx context.Context, timeout time.Duration) (string, error) {
	return s.d.scrape(ctx, timeout)
}

// recoverer adapts window/app recovery to the poll loop.
type recoverer struct{ d *UIDriver }

func (r recoverer) Recover(ctx context.Context) error {
	if err := r.d.ensureRunning(ctx); err != nil {
		return err
	}
	return r.d.ensureWindowAvailable(ctx)
}
