// Package filecontext expands file references carried by a completion
// request into a [FILE_CONTEXT] section appended to the prompt. All
// filesystem access is validated against configured roots and size caps
// before a single byte is appended.
package filecontext

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"ocbridge/internal/bridgeerr"
)

// FileRef is one requested file, from the structured bridge_files list or a
// terminal bridge-files block.
type FileRef struct {
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}

// Limits gates expansion.
type Limits struct {
	Enabled       bool
	AllowedRoots  []string
	MaxFiles      int
	MaxFileChars  int
	MaxTotalChars int
}

// Expand resolves refs, validates them, and returns the prompt with the
// [FILE_CONTEXT] section appended. Duplicate canonical paths are silently
// deduplicated. Diagnostics are merged into diags.
func Expand(promptText string, refs []FileRef, lim Limits, diags *Diagnostics) (string, error) {
	if len(refs) == 0 {
		return promptText, nil
	}
	if !lim.Enabled {
		return "", bridgeerr.New(bridgeerr.CodeFileContextUnsupported, "file context is disabled")
	}
	if lim.MaxFiles > 0 && len(refs) > lim.MaxFiles {
		return "", bridgeerr.Newf(bridgeerr.CodeFileContextInvalid,
			"too many files: %d > %d", len(refs), lim.MaxFiles)
	}

	var sb strings.Builder
	sb.WriteString("\n\n[FILE_CONTEXT]\n")
	seen := make(map[string]struct{})
	total := 0
	for _, ref := range refs {
		canonical, content, err := resolve(ref, lim)
		if err != nil {
			return "", err
		}
		if _, dup := seen[canonical]; dup {
			if diags != nil {
				diags.FilesDeduped++
			}
			continue
		}
		seen[canonical] = struct{}{}

		total += len(content)
		if lim.MaxTotalChars > 0 && total > lim.MaxTotalChars {
			return "", bridgeerr.Newf(bridgeerr.CodeFileContextInvalid,
				"file context exceeds total cap of %d chars", lim.MaxTotalChars)
		}

		label := ref.Label
		if label == "" {
			label = filepath.Base(canonical)
		}
		fmt.Fprintf(&sb, "--- BEGIN FILE: %s ---\n", label)
		fmt.Fprintf(&sb, "path: %s\n", canonical)
		sb.WriteString(strings.TrimRight(content, "\n"))
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "--- END FILE: %s ---\n", label)

		if diags != nil {
			diags.FilesResolved++
		}
	}
	sb.WriteString("[/FILE_CONTEXT]")

	if diags != nil {
		diags.TotalChars = total
	}
	return promptText + sb.String(), nil
}

func resolve(ref FileRef, lim Limits) (string, string, error) {
	path := strings.TrimSpace(ref.Path)
	if path == "" {
		return "", "", bridgeerr.New(bridgeerr.CodeFileContextInvalid, "file path is empty")
	}
	if !filepath.IsAbs(path) {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextInvalid, "file path is not absolute: %s", path)
	}

	canonical := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}

	if len(lim.AllowedRoots) > 0 && !insideRoots(canonical, lim.AllowedRoots) {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextAccessDenied,
			"path is outside allowed roots: %s", canonical)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", "", classifyFSError(err, canonical)
	}
	if !info.Mode().IsRegular() {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextInvalid, "not a regular file: %s", canonical)
	}
	if lim.MaxFileChars > 0 && info.Size() > int64(lim.MaxFileChars) {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextInvalid,
			"file exceeds %d chars: %s", lim.MaxFileChars, canonical)
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		return "", "", classifyFSError(err, canonical)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextUnsupported, "file contains NUL bytes: %s", canonical)
	}
	if !utf8.Valid(data) {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextUnsupported, "file is not valid UTF-8: %s", canonical)
	}
	if lim.MaxFileChars > 0 && len(data) > lim.MaxFileChars {
		return "", "", bridgeerr.Newf(bridgeerr.CodeFileContextInvalid,
			"file exceeds %d chars: %s", lim.MaxFileChars, canonical)
	}
	return canonical, string(data), nil
}

func insideRoots(path string, roots []string) bool {
	for _, root := range roots {
		root = filepath.Clean(strings.TrimSpace(root))
		if root == "" {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(root); err == nil {
			root = resolved
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
			return true
		}
	}
	return false
}

func classifyFSError(err error, path string) *bridgeerr.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return bridgeerr.Newf(bridgeerr.CodeFileContextNotFound, "file not found: %s", path).WithCause(err)
	case errors.Is(err, fs.ErrPermission):
		return bridgeerr.Newf(bridgeerr.CodeFileContextAccessDenied, "permission denied: %s", path).WithCause(err)
	default:
		return bridgeerr.Newf(bridgeerr.CodeFileContextInvalid, "cannot read file: %s", path).WithCause(err)
	}
}
