package filecontext

import (
	"encoding/json"
	"strings"

	"ocbridge/internal/bridgeerr"
)

const (
	blockOpen  = "[BRIDGE_FILES]"
	blockClose = "[/BRIDGE_FILES]"
)

// BlockResult is the outcome of scanning a prompt for bridge-files blocks.
type BlockResult struct {
	// Refs parsed from the terminal block, if one was consumed.
	Refs []FileRef
	// Prompt with the terminal block removed. Non-terminal blocks are left
	// in place.
	Prompt string
	Diags  Diagnostics
}

// Diagnostics counters are part of the audit-log contract and must be
// reported even when no block is consumed.
type Diagnostics struct {
	BlocksDetected  int    `json:"blocks_detected"`
	TerminalBlock   bool   `json:"terminal_block"`
	ParseMode       string `json:"parse_mode,omitempty"` // json | lines
	FilesRequested  int    `json:"files_requested"`
	FilesResolved   int    `json:"files_resolved"`
	FilesDeduped    int    `json:"files_deduped"`
	TotalChars      int    `json:"total_chars"`
	IgnoredInPrompt int    `json:"ignored_in_prompt"`
}

// ScanBlock finds [BRIDGE_FILES]...[/BRIDGE_FILES] blocks in the prompt.
// Only a terminal block — one followed by nothing but whitespace — is
// consumed; earlier occurrences are treated as literal text.
func ScanBlock(promptText string) (BlockResult, error) {
	res := BlockResult{Prompt: promptText}

	search := promptText
	offset := 0
	type span struct{ open, bodyStart, bodyEnd, end int }
	var spans []span
	for {
		i := strings.Index(search, blockOpen)
		if i < 0 {
			break
		}
		j := strings.Index(search[i+len(blockOpen):], blockClose)
		if j < 0 {
			break
		}
		bodyStart := i + len(blockOpen)
		bodyEnd := bodyStart + j
		end := bodyEnd + len(blockClose)
		spans = append(spans, span{offset + i, offset + bodyStart, offset + bodyEnd, offset + end})
		search = search[end:]
		offset += end
	}

	res.Diags.BlocksDetected = len(spans)
	if len(spans) == 0 {
		return res, nil
	}

	last := spans[len(spans)-1]
	if strings.TrimSpace(promptText[last.end:]) != "" {
		// No terminal block; everything stays in the prompt verbatim.
		res.Diags.IgnoredInPrompt = len(spans)
		return res, nil
	}
	res.Diags.IgnoredInPrompt = len(spans) - 1
	res.Diags.TerminalBlock = true

	body := promptText[last.bodyStart:last.bodyEnd]
	refs, mode, err := parseBlockBody(body)
	if err != nil {
		return res, err
	}
	res.Refs = refs
	res.Diags.ParseMode = mode
	res.Diags.FilesRequested = len(refs)
	res.Prompt = strings.TrimRight(promptText[:last.open], " \t\n")
	return res, nil
}

// parseBlockBody accepts either a JSON array of {path,label} objects or
// plain lines of the form "path" / "label|path".
func parseBlockBody(body string) ([]FileRef, string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, "", bridgeerr.New(bridgeerr.CodeFileContextInvalid, "bridge files block is empty")
	}

	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var refs []FileRef
		if err := json.Unmarshal([]byte(trimmed), &refs); err == nil {
			return refs, "json", nil
		}
		var wrapper struct {
			Files []FileRef `json:"files"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && len(wrapper.Files) > 0 {
			return wrapper.Files, "json", nil
		}
		return nil, "", bridgeerr.New(bridgeerr.CodeFileContextInvalid, "bridge files block is not valid JSON")
	}

	var refs []FileRef
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if label, path, ok := strings.Cut(line, "|"); ok {
			refs = append(refs, FileRef{Path: strings.TrimSpace(path), Label: strings.TrimSpace(label)})
		} else {
			refs = append(refs, FileRef{Path: line})
		}
	}
	if len(refs) == 0 {
		return nil, "", bridgeerr.New(bridgeerr.CodeFileContextInvalid, "bridge files block has no entries")
	}
	return refs, "lines", nil
}
