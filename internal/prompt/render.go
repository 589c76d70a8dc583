// Package prompt turns an OpenAI messages array into the text pushed to the
// chat app. Only the last user message is sent: the app keeps its own
// history, so system and assistant messages are dropped rather than
// replayed.
package prompt

import (
	"regexp"
	"strings"

	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/marker"
)

// Message is one entry of the incoming messages array.
type Message struct {
	Role    string
	Content string
}

// Subagent orchestrators wrap their payloads in control framing that must
// not reach the chat app verbatim.
var subagentTags = []string{"SUBAGENT_TASK", "SUBAGENT_CONTEXT", "AGENT_PREAMBLE", "TASK_HEADER"}

var subagentBlocks = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(subagentTags))
	for _, tag := range subagentTags {
		res = append(res, regexp.MustCompile(`(?s)\[`+tag+`\].*?\[/`+tag+`\]\n?`))
	}
	return res
}()

var subagentBlockOpen = regexp.MustCompile(`\[(SUBAGENT_TASK|SUBAGENT_CONTEXT|AGENT_PREAMBLE|TASK_HEADER)\]`)

// subagentHeading matches heading-delimited task preambles at the start of a
// message; the heading and its paragraph are dropped.
var subagentHeading = regexp.MustCompile(`(?i)^#{1,4}\s*(subagent|agent task|task header|orchestrator)\b.*$`)

// timestampHeader matches dated headers some clients prepend to each turn.
var timestampHeader = regexp.MustCompile(`^\[?\(?\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}(:\d{2})?([ ]?(UTC|Z|[+-]\d{2}:?\d{2}))?\)?\]?:?\s*$`)

// Render returns the text of the last user message after stripping control
// metadata, leaked markers, and timestamp headers.
func Render(messages []Message) (string, error) {
	var last string
	found := false
	for _, m := range messages {
		if strings.EqualFold(strings.TrimSpace(m.Role), "user") {
			last = m.Content
			found = true
		}
	}
	if !found {
		return "", bridgeerr.New(bridgeerr.CodeInvalidRequest, "messages must contain at least one user message")
	}
	return Clean(last), nil
}

// Clean strips subagent metadata blocks, leaked bridge markers, and dated
// timestamp headers from a message body.
func Clean(body string) string {
	for _, re := range subagentBlocks {
		body = re.ReplaceAllString(body, "")
	}
	// An unterminated block is cut from its opening tag to end of text.
	if loc := subagentBlockOpen.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	body = marker.StripAll(body)

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	skipParagraph := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if skipParagraph {
			if trimmed == "" {
				skipParagraph = false
			}
			continue
		}
		if i == 0 && subagentHeading.MatchString(trimmed) {
			skipParagraph = true
			continue
		}
		if timestampHeader.MatchString(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ValidateSizes enforces the per-message character cap.
func ValidateSizes(messages []Message, maxMessageChars int) error {
	if maxMessageChars <= 0 {
		return nil
	}
	for i, m := range messages {
		if len(m.Content) > maxMessageChars {
			return bridgeerr.Newf(bridgeerr.CodePromptTooLarge,
				"message %d exceeds %d chars", i, maxMessageChars).
				WithDetail("message_index", i).
				WithDetail("message_chars", len(m.Content))
		}
	}
	return nil
}

// ValidatePromptSize enforces the pre-send prompt cap.
func ValidatePromptSize(prompt string, maxPromptChars int) error {
	if maxPromptChars > 0 && len(prompt) > maxPromptChars {
		return bridgeerr.Newf(bridgeerr.CodePromptTooLarge,
			"rendered prompt exceeds %d chars", maxPromptChars).
			WithDetail("prompt_chars", len(prompt))
	}
	return nil
}
