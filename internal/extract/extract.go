// Package extract converts a raw accessibility scrape plus an extraction
// anchor into the assistant's reply text. Extraction is pure: it never
// touches the UI, and every failure is a typed result rather than a thrown
// control-flow, so the poll loop can run it on every tick.
package extract

import (
	"strings"

	"ocbridge/internal/marker"
)

// Mode identifies how the reply segment was located.
type Mode string

const (
	// ModeMarker means the reply was cut after the marker's (or anchor's)
	// last occurrence.
	ModeMarker Mode = "marker"
	// ModeSnapshotDelta means the reply is the suffix of the scrape beyond
	// the pre-send snapshot. Legacy anchors only.
	ModeSnapshotDelta Mode = "snapshot_delta"
)

// FailReason classifies why extraction produced no text this tick.
type FailReason string

const (
	// ReasonMarkerNotFound means the strict anchor's marker is absent from
	// the scrape.
	ReasonMarkerNotFound FailReason = "marker_not_found"
	// ReasonResponseNotReady means a segment was located but rejected (echo,
	// leaked marker, pure noise); the reply has not materialized yet.
	ReasonResponseNotReady FailReason = "response_not_ready"
)

// Config carries the configurable UI label strings.
type Config struct {
	RegenerateLabel  string
	ContinueLabel    string
	ExtraNoiseLabels []string
}

// Result is a successful extraction.
type Result struct {
	Text string
	Mode Mode
}

// Failure is an unsuccessful extraction. It is a value, not an error.
type Failure struct {
	Reason FailReason
	Detail string
}

// minFirstLineAnchor is the minimum length of the prompt's first line for it
// to serve as a tail-walk boundary in the legacy path.
const minFirstLineAnchor = 12

// promptEchoSubstringMin is the normalized length above which a single-line
// substring of the prompt is rejected as an echo.
const promptEchoSubstringMin = 120

// snapshotWindow is the size of the trailing snapshot window used for the
// delta lookup.
const snapshotWindow = 1024

// Extract locates the assistant reply inside full. The anchor is the
// pre-send prompt; when it ends with a bridge marker the strict path is
// used and snapshot-delta is never consulted. preSnapshot is the scrape
// taken before the prompt was sent (legacy anchors only; may be empty).
func Extract(full, anchor, preSnapshot string, cfg Config) (Result, *Failure) {
	if mk := marker.TrailingMarker(anchor); mk != "" {
		return extractStrict(full, anchor, mk, cfg)
	}
	return extractLegacy(full, anchor, preSnapshot, cfg)
}

func extractStrict(full, anchor, mk string, cfg Config) (Result, *Failure) {
	idx := strings.LastIndex(full, mk)
	if idx < 0 {
		return Result{}, &Failure{Reason: ReasonMarkerNotFound}
	}
	segment := full[idx+len(mk):]
	text, fail := cfg.refine(segment, anchor)
	if fail != nil {
		return Result{}, fail
	}
	return Result{Text: text, Mode: ModeMarker}, nil
}

func extractLegacy(full, anchor, preSnapshot string, cfg Config) (Result, *Failure) {
	prompt := strings.TrimSpace(anchor)

	if prompt != "" {
		if idx := strings.LastIndex(full, prompt); idx >= 0 {
			if text, fail := cfg.refine(full[idx+len(prompt):], anchor); fail == nil {
				return Result{Text: text, Mode: ModeMarker}, nil
			}
		}
		if idx := strings.Index(full, prompt); idx >= 0 {
			if text, fail := cfg.refine(full[idx+len(prompt):], anchor); fail == nil {
				return Result{Text: text, Mode: ModeMarker}, nil
			}
		}
		if seg, ok := cfg.tailWalk(full, prompt); ok {
			if text, fail := cfg.refine(seg, anchor); fail == nil {
				return Result{Text: text, Mode: ModeMarker}, nil
			}
		}
	}

	if preSnapshot != "" {
		if seg, ok := snapshotDelta(full, preSnapshot); ok {
			text, fail := cfg.refine(seg, anchor)
			if fail != nil {
				return Result{}, fail
			}
			return Result{Text: text, Mode: ModeSnapshotDelta}, nil
		}
	}

	return Result{}, &Failure{Reason: ReasonResponseNotReady, Detail: "no anchor match"}
}

// tailWalk walks the scrape backwards, skipping noise lines, until a line
// matching the prompt's first line marks the boundary. Only used when the
// first line is long enough to be unambiguous.
func (c Config) tailWalk(full, prompt string) (string, bool) {
	firstLine := prompt
	if idx := strings.Index(prompt, "\n"); idx >= 0 {
		firstLine = prompt[:idx]
	}
	firstLine = Normalize(firstLine)
	if len(firstLine) < minFirstLineAnchor {
		return "", false
	}

	lines := strings.Split(full, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if c.isNoiseLine(lines[i]) {
			continue
		}
		if Normalize(lines[i]) == firstLine {
			return strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", false
}

// snapshotDelta computes the suffix of full beyond the pre-send snapshot:
// first by locating a trailing window of the snapshot, then by longest
// common prefix.
func snapshotDelta(full, snapshot string) (string, bool) {
	window := snapshot
	if len(window) > snapshotWindow {
		window = window[len(window)-snapshotWindow:]
	}
	if window != "" {
		if idx := strings.LastIndex(full, window); idx >= 0 {
			return full[idx+len(window):], true
		}
	}

	common := 0
	for common < len(full) && common < len(snapshot) && full[common] == snapshot[common] {
		common++
	}
	if common == 0 {
		return "", false
	}
	return full[common:], true
}

// refine strips UI noise and prompt echo from a located segment and applies
// the rejection rules.
func (c Config) refine(segment, anchor string) (string, *Failure) {
	if c.onlyNoise(segment) {
		return "", &Failure{Reason: ReasonResponseNotReady, Detail: "segment is noise"}
	}

	text := c.stripNoise(segment)
	text = c.stripPromptEcho(text, anchor)
	text = dedupeAXText(text)
	text = strings.TrimSpace(text)

	promptOnly := marker.StripAll(anchor)
	normText := Normalize(text)
	normPrompt := Normalize(promptOnly)

	switch {
	case normText == "":
		return "", &Failure{Reason: ReasonResponseNotReady, Detail: "empty after stripping"}
	case marker.Contains(text):
		return "", &Failure{Reason: ReasonResponseNotReady, Detail: "marker leaked into reply"}
	case normText == normPrompt:
		return "", &Failure{Reason: ReasonResponseNotReady, Detail: "reply equals prompt"}
	case strings.Contains(normPrompt, normText) &&
		(len(normText) >= promptEchoSubstringMin || strings.Contains(text, "\n")):
		return "", &Failure{Reason: ReasonResponseNotReady, Detail: "reply is a prompt substring"}
	}
	return text, nil
}

// stripPromptEcho drops leading lines that re-state the sent prompt or its
// file-context framing until the first genuine reply line.
func (c Config) stripPromptEcho(text, anchor string) string {
	promptLines := make(map[string]struct{})
	for _, line := range strings.Split(marker.StripAll(anchor), "\n") {
		if n := normalizeLine(line); n != "" {
			promptLines[n] = struct{}{}
		}
	}

	lines := strings.Split(text, "\n")
	start := 0
	for start < len(lines) {
		n := normalizeLine(lines[start])
		if n == "" {
			start++
			continue
		}
		if _, ok := promptLines[n]; ok {
			start++
			continue
		}
		if isEchoFraming(n) {
			start++
			continue
		}
		break
	}
	return strings.Join(lines[start:], "\n")
}

func isEchoFraming(normLine string) bool {
	return normLine == "[file_context]" ||
		normLine == "[/file_context]" ||
		strings.HasPrefix(normLine, "--- begin file:") ||
		strings.HasPrefix(normLine, "--- end file:") ||
		strings.HasPrefix(normLine, "path:")
}

// dedupeAXText collapses the accessibility tree's whole-segment duplication:
// when the text splits into two equal halves (by character or by line), one
// half is kept.
func dedupeAXText(text string) string {
	if text == "" {
		return text
	}
	if len(text)%2 == 0 {
		half := len(text) / 2
		if text[:half] == text[half:] {
			return strings.TrimSpace(text[:half])
		}
	} else {
		// Tolerate a separating newline between the halves.
		half := len(text) / 2
		if text[half] == '\n' && text[:half] == text[half+1:] {
			return strings.TrimSpace(text[:half])
		}
	}
	lines := strings.Split(text, "\n")
	if len(lines) >= 2 && len(lines)%2 == 0 {
		half := len(lines) / 2
		equal := true
		for i := 0; i < half; i++ {
			if Normalize(lines[i]) != Normalize(lines[half+i]) {
				equal = false
				break
			}
		}
		if equal {
			return strings.TrimSpace(strings.Join(lines[:half], "\n"))
		}
	}
	return text
}
