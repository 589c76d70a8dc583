// Package uierrors detects known failure banners inside raw accessibility
// scrapes. Matching is case-insensitive substring search; the mapping from
// pattern code to bridge error kind is fixed.
package uierrors

import (
	"encoding/json"
	"fmt"
	"strings"

	"ocbridge/internal/bridgeerr"
)

// rateRetryAfterSec is the retry hint attached to the two rate-like kinds.
const rateRetryAfterSec = 60

// Pattern associates a detection code with the substrings that trigger it.
type Pattern struct {
	Code     string   `json:"code"`
	Includes []string `json:"includes"`
}

// codeToKind is the fixed mapping from pattern code to error kind. Unknown
// pattern codes are rejected at parse time, never at detection time.
var codeToKind = map[string]bridgeerr.Code{
	"usage_cap":     bridgeerr.CodeUsageCap,
	"rate_limited":  bridgeerr.CodeRateLimitedByChatGPT,
	"network_error": bridgeerr.CodeNetworkError,
	"captcha":       bridgeerr.CodeCaptcha,
	"auth_required": bridgeerr.CodeAuthRequired,
}

// Defaults returns the built-in pattern set, matching the strings the chat
// app is known to surface.
func Defaults() []Pattern {
	return []Pattern{
		{Code: "usage_cap", Includes: []string{
			"you've reached the current usage cap",
			"you have reached the current usage cap",
			"usage cap",
		}},
		{Code: "rate_limited", Includes: []string{
			"too many requests",
			"you're sending messages too quickly",
		}},
		{Code: "network_error", Includes: []string{
			"network error",
			"there was an error generating a response",
			"something went wrong",
		}},
		{Code: "captcha", Includes: []string{
			"verify you are human",
			"unusual activity",
		}},
		{Code: "auth_required", Includes: []string{
			"log in to continue",
			"your session has expired",
			"sign in to chatgpt",
		}},
	}
}

// Parse decodes a UI_ERROR_PATTERNS_JSON value. Empty input returns the
// defaults.
func Parse(raw string) ([]Pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return Defaults(), nil
	}
	var patterns []Pattern
	if err := json.Unmarshal([]byte(raw), &patterns); err != nil {
		return nil, fmt.Errorf("parse UI error patterns: %w", err)
	}
	for _, p := range patterns {
		if _, ok := codeToKind[p.Code]; !ok {
			return nil, fmt.Errorf("unknown UI error pattern code %q", p.Code)
		}
		if len(p.Includes) == 0 {
			return nil, fmt.Errorf("UI error pattern %q has no includes", p.Code)
		}
	}
	return patterns, nil
}

// Detect scans text against the pattern list. A match returns a typed bridge
// error; nil means no known failure banner is present.
func Detect(text string, patterns []Pattern) *bridgeerr.Error {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		for _, inc := range p.Includes {
			if inc == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(inc)) {
				kind := codeToKind[p.Code]
				err := bridgeerr.Newf(kind, "chat app reported %s", p.Code).
					WithDetail("matched", inc)
				if kind == bridgeerr.CodeUsageCap || kind == bridgeerr.CodeRateLimitedByChatGPT {
					err = err.WithRetryAfter(rateRetryAfterSec)
				}
				return err
			}
		}
	}
	return nil
}
