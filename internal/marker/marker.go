// Package marker computes the per-request signature appended to every sent
// prompt. The extractor cuts the assistant reply after the marker's last
// occurrence, so the tag must be deterministic per request id and must never
// contain brackets or newlines.
package marker

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"
)

const tagLen = 16

// Pattern matches any bridge marker, including leaked fragments re-emitted
// by the model. Tags are base64url, request ids are uuid-shaped.
var Pattern = regexp.MustCompile(`\[\[OC=[A-Za-z0-9._~-]+\]\]`)

var ridSanitizer = regexp.MustCompile(`[^A-Za-z0-9._~-]`)

// Tag returns the truncated keyed MAC over the request id.
func Tag(requestID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(requestID))
	sum := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return sum[:tagLen]
}

// Build returns the single-line marker for a request:
// [[OC=<rid>.<tag>]]. Characters that could break the bracket framing are
// stripped from the request id before signing.
func Build(requestID string, secret []byte) string {
	rid := ridSanitizer.ReplaceAllString(requestID, "")
	return "[[OC=" + rid + "." + Tag(rid, secret) + "]]"
}

// Append returns the prompt with the marker as its final line, separated by
// a single blank line.
func Append(prompt, mark string) string {
	return strings.TrimRight(prompt, "\n") + "\n\n" + mark
}

// Contains reports whether text carries any bridge marker.
func Contains(text string) bool {
	return Pattern.MatchString(text)
}

// StripAll removes every marker occurrence from text.
func StripAll(text string) string {
	return Pattern.ReplaceAllString(text, "")
}

// TrailingMarker returns the marker the anchor ends with, or "" when the
// anchor is a legacy one without a marker line.
func TrailingMarker(anchor string) string {
	trimmed := strings.TrimRight(anchor, " \t\n")
	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed
	if idx >= 0 {
		last = trimmed[idx+1:]
	}
	last = strings.TrimSpace(last)
	if Pattern.MatchString(last) && Pattern.FindString(last) == last {
		return last
	}
	return ""
}

// SecretFromEnv returns the MAC key. When unset an ephemeral random key is
// generated; duplicate-coalescing still works because the fingerprint
// excludes the marker, but markers will not be stable across restarts.
func SecretFromEnv(value string) []byte {
	if value != "" {
		return []byte(value)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand failing is unrecoverable for any useful secret.
		panic(err)
	}
	slog.Warn("MARKER_SECRET not set, using ephemeral random key; markers will differ across restarts")
	return key
}
