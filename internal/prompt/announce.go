package prompt

import (
	"regexp"
	"strings"
)

// AnnounceSkipText is the synthetic reply returned for internal announce
// prompts. These are orchestration chatter, not questions, and must never
// reach the UI.
const AnnounceSkipText = "ANNOUNCE_SKIP"

// announcePatterns is the fixed set of internal-announce shapes, compared
// case-insensitively against the whitespace-collapsed rendered prompt.
var announcePatterns = []string{
	"new session started",
	"session handoff complete",
	"subagent reporting in",
	"subagent ready",
	"agent online",
	"orchestrator heartbeat",
}

var announceWS = regexp.MustCompile(`\s+`)

// IsAnnounce reports whether the rendered prompt is an internal announce
// that should short-circuit without any UI interaction.
func IsAnnounce(rendered string) bool {
	collapsed := strings.ToLower(strings.TrimSpace(announceWS.ReplaceAllString(rendered, " ")))
	collapsed = strings.TrimSuffix(collapsed, ".")
	for _, p := range announcePatterns {
		if collapsed == p {
			return true
		}
	}
	return false
}
