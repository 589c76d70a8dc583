package session

import (
	"log/slog"
	"strings"

	"ocbridge/internal/bridgeerr"
)

// Mode selects how conversation routing fields in the request body are
// interpreted.
type Mode string

const (
	// ModeOff ignores routing fields entirely.
	ModeOff Mode = "off"
	// ModeSticky uses the body conversation when present, else the persisted
	// slot binding, else the active conversation.
	ModeSticky Mode = "sticky"
	// ModeExplicit requires a conversation id on every request.
	ModeExplicit Mode = "explicit"
)

// ParseMode validates a SESSION_BINDING_MODE value.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff, "":
		return ModeOff, true
	case ModeSticky:
		return ModeSticky, true
	case ModeExplicit:
		return ModeExplicit, true
	}
	return "", false
}

// Source records where a resolution's conversation id came from.
type Source string

const (
	SourceBody    Source = "body"
	SourceBinding Source = "binding"
	SourceNone    Source = "none"
)

// Resolution is the routing outcome for one request.
type Resolution struct {
	Slot           string
	ConversationID string
	Source         Source
	StrictOpen     bool
}

// Router owns all session bindings; handlers only read and update through
// it.
type Router struct {
	mode        Mode
	defaultSlot string
	strictOpen  bool
	store       *Store
}

// NewRouter creates a router over the given store.
func NewRouter(mode Mode, defaultSlot string, strictOpen bool, store *Store) *Router {
	if defaultSlot == "" {
		defaultSlot = "default"
	}
	return &Router{mode: mode, defaultSlot: defaultSlot, strictOpen: strictOpen, store: store}
}

// Mode returns the configured routing mode.
func (r *Router) Mode() Mode { return r.mode }

// Store exposes the underlying bindings store for the read-only surfaces.
func (r *Router) Store() *Store { return r.store }

// NormalizeSlot trims and lowercases a slot name, substituting the default
// for empty input.
func (r *Router) NormalizeSlot(slot string) string {
	slot = strings.ToLower(strings.TrimSpace(slot))
	if slot == "" {
		return r.defaultSlot
	}
	return slot
}

// Resolve computes the conversation binding for one request.
func (r *Router) Resolve(sessionKey, conversationID string) (Resolution, error) {
	conversationID = strings.TrimSpace(conversationID)

	switch r.mode {
	case ModeOff:
		return Resolution{Source: SourceNone}, nil

	case ModeExplicit:
		if conversationID == "" {
			return Resolution{}, bridgeerr.New(bridgeerr.CodeInvalidRequest,
				"conversation_id is required when session binding mode is explicit")
		}
		return Resolution{
			Slot:           r.NormalizeSlot(sessionKey),
			ConversationID: conversationID,
			Source:         SourceBody,
			StrictOpen:     r.strictOpen,
		}, nil

	default: // ModeSticky
		slot := r.NormalizeSlot(sessionKey)
		if conversationID != "" {
			return Resolution{Slot: slot, ConversationID: conversationID, Source: SourceBody, StrictOpen: r.strictOpen}, nil
		}
		if bound, ok := r.store.Get(slot); ok {
			return Resolution{Slot: slot, ConversationID: bound, Source: SourceBinding, StrictOpen: r.strictOpen}, nil
		}
		return Resolution{Slot: slot, Source: SourceNone, StrictOpen: r.strictOpen}, nil
	}
}

// Commit persists the binding after a successful ask: only when the driver
// actually opened a conversation, and only for explicit mode or a sticky
// body-sourced conversation.
func (r *Router) Commit(res Resolution, openedConversationID string) {
	if openedConversationID == "" || r.mode == ModeOff {
		return
	}
	if r.mode == ModeSticky && res.Source != SourceBody {
		return
	}
	if err := r.store.Set(res.Slot, strings.TrimSpace(openedConversationID)); err != nil {
		slog.Error("failed to persist session binding",
			"slot", res.Slot, "conversation_id", openedConversationID, "error", err)
	}
}
