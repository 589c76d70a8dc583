package uierrors

import (
	"testing"

	"ocbridge/internal/bridgeerr"
)

func TestDetectDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantCode  bridgeerr.Code
		wantRetry int
	}{
		{
			name:      "usage cap",
			text:      "Some reply\nYou've reached the current usage cap for GPT-4",
			wantCode:  bridgeerr.CodeUsageCap,
			wantRetry: 60,
		},
		{
			name:      "rate limited case insensitive",
			text:      "TOO MANY REQUESTS, slow down",
			wantCode:  bridgeerr.CodeRateLimitedByChatGPT,
			wantRetry: 60,
		},
		{
			name:     "network error",
			text:     "There was an error generating a response",
			wantCode: bridgeerr.CodeNetworkError,
		},
		{
			name:     "captcha",
			text:     "Please verify you are human",
			wantCode: bridgeerr.CodeCaptcha,
		},
		{
			name:     "auth",
			text:     "Your session has expired.",
			wantCode: bridgeerr.CodeAuthRequired,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Detect(tt.text, Defaults())
			if err == nil {
				t.Fatal("expected detection")
			}
			if err.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", err.Code, tt.wantCode)
			}
			if err.RetryAfterSec != tt.wantRetry {
				t.Errorf("retry_after_sec = %d, want %d", err.RetryAfterSec, tt.wantRetry)
			}
		})
	}
}

func TestDetectCleanText(t *testing.T) {
	t.Parallel()

	if err := Detect("The answer is 4.", Defaults()); err != nil {
		t.Errorf("false positive on clean text: %v", err)
	}
}

func TestParseCustomPatterns(t *testing.T) {
	t.Parallel()

	patterns, err := Parse(`[{"code":"usage_cap","includes":["plus limit reached"]}]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := Detect("Plus limit reached, upgrade", patterns); got == nil || got.Code != bridgeerr.CodeUsageCap {
		t.Errorf("custom pattern did not match: %v", got)
	}
	// Custom set replaces, not extends, the defaults.
	if got := Detect("too many requests", patterns); got != nil {
		t.Errorf("default pattern leaked into custom set: %v", got)
	}
}

func TestParseEmptyReturnsDefaults(t *testing.T) {
	t.Parallel()

	patterns, err := Parse("  ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(patterns) != len(Defaults()) {
		t.Errorf("got %d patterns, want defaults (%d)", len(patterns), len(Defaults()))
	}
}

func TestParseRejectsUnknownCode(t *testing.T) {
	t.Parallel()

	if _, err := Parse(`[{"code":"nonsense","includes":["x"]}]`); err == nil {
		t.Error("unknown code accepted")
	}
	if _, err := Parse(`[{"code":"usage_cap","includes":[]}]`); err == nil {
		t.Error("empty includes accepted")
	}
	if _, err := Parse(`{not json`); err == nil {
		t.Error("malformed JSON accepted")
	}
}
