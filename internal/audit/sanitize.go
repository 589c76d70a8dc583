package audit

import "strings"

// Mode selects how much of an event survives sanitization.
type Mode string

const (
	// ModeFull keeps bodies and metadata, redacting sensitive headers and
	// any field whose name looks credential-like.
	ModeFull Mode = "full"
	// ModeHeaders redacts sensitive headers and keeps everything else
	// untouched.
	ModeHeaders Mode = "headers"
	// ModeMetadata drops bodies entirely and keeps only summary metadata.
	ModeMetadata Mode = "metadata"
)

// ParseMode validates an AUDIT_LOG_MODE value.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFull, "":
		return ModeFull, true
	case ModeHeaders:
		return ModeHeaders, true
	case ModeMetadata:
		return ModeMetadata, true
	}
	return "", false
}

const redacted = "[REDACTED]"

// sensitiveHeaders are always redacted regardless of mode (metadata mode
// drops headers entirely).
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
}

// sensitiveFieldFragments drive the field-name heuristic in full mode.
var sensitiveFieldFragments = []string{
	"token", "secret", "password", "passwd", "api_key", "apikey", "credential", "bearer",
}

func sanitize(e Event, mode Mode) Event {
	switch mode {
	case ModeMetadata:
		if e.Body != "" {
			if e.Meta == nil {
				e.Meta = make(map[string]any)
			}
			e.Meta["body_chars"] = len(e.Body)
			e.Body = ""
		}
		e.Headers = nil
		e.Meta = redactFields(e.Meta)
	case ModeHeaders:
		e.Headers = redactHeaders(e.Headers)
	default: // ModeFull
		e.Headers = redactHeaders(e.Headers)
		e.Meta = redactFields(e.Meta)
	}
	return e
}

func redactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, sensitive := sensitiveHeaders[strings.ToLower(k)]; sensitive {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

func redactFields(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if isSensitiveField(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = redactFields(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveFieldFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
