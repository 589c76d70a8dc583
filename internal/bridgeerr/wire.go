package bridgeerr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// wireError is the OpenAI-compatible error body. Details and retry_after_sec
// are bridge extensions; OpenAI clients ignore unknown keys.
type wireError struct {
	Message       string         `json:"message"`
	Type          string         `json:"type"`
	Code          Code           `json:"code"`
	Param         *string        `json:"param"`
	RetryAfterSec int            `json:"retry_after_sec,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

type wireBody struct {
	Error wireError `json:"error"`
}

func wireType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// WriteHTTP encodes e as the wire error body with the fixed status mapping,
// Retry-After when hinted, and x-should-retry: false so SDK auto-retry loops
// do not hammer the UI.
func WriteHTTP(w http.ResponseWriter, err error) {
	e, ok := As(err)
	if !ok {
		e = Wrap(err)
	}
	status := e.HTTPStatus()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-should-retry", "false")
	if e.RetryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSec))
	}
	w.WriteHeader(status)

	body := wireBody{Error: wireError{
		Message:       e.Message,
		Type:          wireType(status),
		Code:          e.Code,
		Param:         nil,
		RetryAfterSec: e.RetryAfterSec,
		Details:       e.Details,
	}}
	_ = json.NewEncoder(w).Encode(body)
}
