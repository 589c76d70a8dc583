package extract

import (
	"regexp"
	"strings"
)

// TypingCursor is the glyph the chat app renders while the reply is still
// being generated. Its presence blocks the done predicate.
const TypingCursor = "▍"

var zeroWidthReplacer = strings.NewReplacer(
	"​", "", // zero width space
	"‌", "", // zero width non-joiner
	"‍", "", // zero width joiner
	"⁠", "", // word joiner
	"\uFEFF", "", // BOM, rejected by the compiler as a literal mid-file
	"￼", "", // object replacement
)

var wsCollapser = regexp.MustCompile(`\s+`)

// chatgptVersionLine matches "ChatGPT", "ChatGPT 4o", "ChatGPT 5.1" style
// header lines the accessibility tree interleaves with the reply.
var chatgptVersionLine = regexp.MustCompile(`(?i)^chatgpt(\s+[0-9a-z]+([.\-][0-9a-z]+)*)?$`)

// thinkingHeaderLine matches the collapsible reasoning section headers. The
// set is locale-aware because the app localizes these.
var thinkingHeaderLine = regexp.MustCompile(`(?i)^(thinking|thought for .*|réflexion.*|reasoning|raisonnement.*|analyse en cours.*)$`)

// axArtifactLine matches accessibility role descriptions that leak into
// scrapes as standalone lines.
var axArtifactLine = regexp.MustCompile(`(?i)^(static text|text field|toolbar|menu item|pop up button|scroll area)$`)

// builtinNoiseLines are toolbar and affordance labels stripped wherever they
// appear as whole lines.
var builtinNoiseLines = map[string]struct{}{
	"regenerate":          {},
	"continue generating": {},
	"stop generating":     {},
	"copy":                {},
	"copy code":           {},
	"read aloud":          {},
	"good response":       {},
	"bad response":        {},
	"share":               {},
	"edit message":        {},
	"send prompt":         {},
	"temporary chat":      {},
	TypingCursor:          {},
}

// Normalize removes zero-width and object-replacement glyphs and collapses
// whitespace runs. Comparisons in the poll loop and the rejection rules all
// work on normalized text.
func Normalize(s string) string {
	s = zeroWidthReplacer.Replace(s)
	s = wsCollapser.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func normalizeLine(s string) string {
	return strings.ToLower(Normalize(s))
}

func (c Config) isNoiseLine(line string) bool {
	n := normalizeLine(line)
	if n == "" {
		return false
	}
	if _, ok := builtinNoiseLines[n]; ok {
		return true
	}
	for _, label := range c.noiseLabels() {
		if label != "" && n == strings.ToLower(label) {
			return true
		}
	}
	return chatgptVersionLine.MatchString(n) ||
		thinkingHeaderLine.MatchString(n) ||
		axArtifactLine.MatchString(n)
}

func (c Config) noiseLabels() []string {
	labels := make([]string, 0, 2+len(c.ExtraNoiseLabels))
	if c.RegenerateLabel != "" {
		labels = append(labels, c.RegenerateLabel)
	}
	if c.ContinueLabel != "" {
		labels = append(labels, c.ContinueLabel)
	}
	return append(labels, c.ExtraNoiseLabels...)
}

// stripNoise removes whole noise lines and the typing cursor glyph from a
// segment, preserving the remaining line structure.
func (c Config) stripNoise(segment string) string {
	lines := strings.Split(segment, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if c.isNoiseLine(line) {
			continue
		}
		kept = append(kept, strings.ReplaceAll(line, TypingCursor, ""))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// onlyNoise reports whether the segment consists entirely of noise lines,
// zero-width glyphs, or whitespace.
func (c Config) onlyNoise(segment string) bool {
	for _, line := range strings.Split(segment, "\n") {
		n := normalizeLine(line)
		if n == "" {
			continue
		}
		if !c.isNoiseLine(line) {
			return false
		}
	}
	return true
}

// HasTypingCursor reports whether the scrape still shows the generation
// cursor anywhere.
func HasTypingCursor(full string) bool {
	return strings.Contains(full, TypingCursor)
}

// CompletionIndicatorsPresent reports whether any completion label (such as
// Regenerate / Continue generating) appears in the scrape.
func CompletionIndicatorsPresent(full string, labels []string) bool {
	lower := strings.ToLower(full)
	for _, label := range labels {
		if label != "" && strings.Contains(lower, strings.ToLower(label)) {
			return true
		}
	}
	return false
}
