package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/extract"
	"ocbridge/internal/marker"
	"ocbridge/internal/poll"
	"ocbridge/internal/uierrors"
)

// fakeAuto scripts the OS layer. The zero value is a healthy app with a
// front window; tests flip fields to exercise the failure paths.
type fakeAuto struct {
	mu sync.Mutex

	running       bool
	accessibility string
	windowPresent bool

	clipboard string
	composer  string
	submitted string
	reply     string

	conversations []string
	openResults   map[string]bool

	newChatErr error
	focusErr   error
	clickErr   error
	cycleErr   error

	activateCalls int
	newChats      int
	cycleCalls    int
}

func newFakeAuto() *fakeAuto {
	return &fakeAuto{
		running:       true,
		accessibility: "granted",
		windowPresent: true,
		clipboard:     "previous clipboard contents",
		reply:         "the extracted reply",
	}
}

func (f *fakeAuto) AppRunning(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeAuto) ActivateApp(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activateCalls++
	f.running = true
	return nil
}

func (f *fakeAuto) AccessibilityStatus(context.Context) (string, error) {
	return f.accessibility, nil
}

func (f *fakeAuto) FrontWindowPresent(context.Context) (bool, error) {
	return f.windowPresent, nil
}

func (f *fakeAuto) ReopenApp(context.Context) error         { return nil }
func (f *fakeAuto) NewWindowShortcut(context.Context) error { return nil }

func (f *fakeAuto) NewChat(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newChatErr != nil {
		return f.newChatErr
	}
	f.newChats++
	return nil
}

func (f *fakeAuto) ListConversations(context.Context) ([]string, error) {
	return f.conversations, nil
}

func (f *fakeAuto) OpenConversation(_ context.Context, title string) (bool, error) {
	return f.openResults[title], nil
}

func (f *fakeAuto) FocusInput(context.Context) error     { return f.focusErr }
func (f *fakeAuto) ClickInputArea(context.Context) error { return f.clickErr }

func (f *fakeAuto) KeyboardFocusCycle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycleCalls++
	return f.cycleErr
}

func (f *fakeAuto) ReadClipboard(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clipboard, nil
}

func (f *fakeAuto) WriteClipboard(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clipboard = text
	return nil
}

func (f *fakeAuto) Paste(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composer = f.clipboard
	return nil
}

func (f *fakeAuto) Submit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = f.composer
	return nil
}

func (f *fakeAuto) Scrape(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitted == "" {
		return "sidebar\nconversation history", nil
	}
	return f.submitted + "\n" + f.reply + "\nRegenerate", nil
}

func testDriver(f *fakeAuto) *UIDriver {
	return New(f, poll.Config{
		Interval:         time.Millisecond,
		MaxWait:          2 * time.Second,
		StableChecks:     2,
		ScrapeTimeout:    50 * time.Millisecond,
		CompletionLabels: []string{"Regenerate"},
		ErrorPatterns:    uierrors.Defaults(),
		Extract:          extract.Config{RegenerateLabel: "Regenerate"},
	})
}

func markedRequest(prompt string) AskRequest {
	mark := marker.Build("req-drv-1", []byte("secret"))
	return AskRequest{
		Prompt:    marker.Append(prompt, mark),
		Marker:    mark,
		RequestID: "req-drv-1",
	}
}

func TestHealthClassification(t *testing.T) {
	t.Parallel()

	f := newFakeAuto()
	if h := testDriver(f).Health(context.Background()); !h.OK {
		t.Errorf("healthy app reported %+v", h)
	}

	f = newFakeAuto()
	f.accessibility = "denied"
	if h := testDriver(f).Health(context.Background()); h.OK || h.Code != string(bridgeerr.CodeAccessibilityDenied) {
		t.Errorf("denied accessibility reported %+v", h)
	}

	f = newFakeAuto()
	f.running = false
	h := testDriver(f).Health(context.Background())
	if h.OK || h.Code != string(bridgeerr.CodeAppNotRunning) {
		t.Errorf("stopped app reported %+v", h)
	}
	if h.AppRunning == nil || *h.AppRunning {
		t.Errorf("app_running = %v", h.AppRunning)
	}
}

func TestAskHappyPath(t *testing.T) {
	t.Parallel()

	f := newFakeAuto()
	req := markedRequest("What is the capital of France?")

	res, err := testDriver(f).Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Text != f.reply {
		t.Errorf("text = %q", res.Text)
	}
	if res.ExtractionMode != "marker" {
		t.Errorf("mode = %q", res.ExtractionMode)
	}
	if res.ContextReset != 0 {
		t.Errorf("context_reset = %d", res.ContextReset)
	}
	if f.submitted != req.Prompt {
		t.Errorf("submitted = %q, want the full marked prompt", f.submitted)
	}
	if f.clipboard != "previous clipboard contents" {
		t.Errorf("clipboard = %q, want the previous contents restored", f.clipboard)
	}
}

func TestAskResetEachRequest(t *testing.T) {
	t.Parallel()

	f := newFakeAuto()
	req := markedRequest("hello")
	req.ResetEachRequest = true

	res, err := testDriver(f).Ask(context.Background(), req)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.ContextReset != 1 || f.newChats != 1 {
		t.Errorf("context_reset = %d, new chats = %d", res.ContextReset, f.newChats)
	}
}

func TestAskResetFailure(t *testing.T) {
	t.Parallel()

	t.Run("strict", func(t *testing.T) {
		t.Parallel()
		f := newFakeAuto()
		f.newChatErr = errors.New("menu item missing")
		req := markedRequest("hello")
		req.ResetEachRequest = true
		req.ResetStrict = true

		_, err := testDriver(f).Ask(context.Background(), req)
		if !bridgeerr.Is(err, bridgeerr.CodeUIResetFailed) {
			t.Fatalf("err = %v, want ui_reset_failed", err)
		}
		be, _ := bridgeerr.As(err)
		if be.ContextReset == nil || *be.ContextReset != 0 {
			t.Errorf("context_reset = %v, want 0 on failed reset", be.ContextReset)
		}
	})

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()
		f := newFakeAuto()
		f.newChatErr = errors.New("menu item missing")
		req := markedRequest("hello")
		req.ResetEachRequest = true

		res, err := testDriver(f).Ask(context.Background(), req)
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if res.ContextReset != 0 {
			t.Errorf("context_reset = %d after failed lenient reset", res.ContextReset)
		}
	})
}

func TestAskConversationOpen(t *testing.T) {
	t.Parallel()

	t.Run("strict missing", func(t *testing.T) {
		t.Parallel()
		f := newFakeAuto()
		req := markedRequest("hello")
		req.ConversationID = "Project Alpha"
		req.StrictOpen = true

		_, err := testDriver(f).Ask(context.Background(), req)
		if !bridgeerr.Is(err, bridgeerr.CodeConversationNotFound) {
			t.Fatalf("err = %v, want conversation_not_found", err)
		}
	})

	t.Run("lenient missing continues active", func(t *testing.T) {
		t.Parallel()
		f := newFakeAuto()
		req := markedRequest("hello")
		req.ConversationID = "Project Alpha"

		res, err := testDriver(f).Ask(context.Background(), req)
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if res.OpenedConversationID != "" {
			t.Errorf("opened = %q, want empty for missing conversation", res.OpenedConversationID)
		}
	})

	t.Run("opened", func(t *testing.T) {
		t.Parallel()
		f := newFakeAuto()
		f.openResults = map[string]bool{"Project Alpha": true}
		req := markedRequest("hello")
		req.ConversationID = "Project Alpha"

		res, err := testDriver(f).Ask(context.Background(), req)
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if res.OpenedConversationID != "Project Alpha" {
			t.Errorf("opened = %q", res.OpenedConversationID)
		}
	})
}

func TestAskFocusCascade(t *testing.T) {
	t.Parallel()

	f := newFakeAuto()
	f.focusErr = errors.New("no AXTextArea")
	f.clickErr = errors.New("click bounced")

	if _, err := testDriver(f).Ask(context.Background(), markedRequest("hello")); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if f.cycleCalls != 1 {
		t.Errorf("keyboard focus cycle calls = %d, want 1", f.cycleCalls)
	}

	f = newFakeAuto()
	f.focusErr = errors.New("no AXTextArea")
	f.clickErr = errors.New("click bounced")
	f.cycleErr = errors.New("tab loop stuck")

	_, err := testDriver(f).Ask(context.Background(), markedRequest("hello"))
	if !bridgeerr.Is(err, bridgeerr.CodeUIElementNotFound) {
		t.Fatalf("err = %v, want ui_element_not_found", err)
	}
}

func TestAskActivatesStoppedApp(t *testing.T) {
	t.Parallel()

	f := newFakeAuto()
	f.running = false

	if _, err := testDriver(f).Ask(context.Background(), markedRequest("hello")); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if f.activateCalls != 1 {
		t.Errorf("activate calls = %d, want 1", f.activateCalls)
	}
}

func TestConversationsDedupe(t *testing.T) {
	t.Parallel()

	f := newFakeAuto()
	f.conversations = []string{"Project Alpha", "", "Scratch", "Project Alpha"}

	titles, err := testDriver(f).Conversations(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	want := []string{"Project Alpha", "Scratch"}
	if len(titles) != len(want) {
		t.Fatalf("titles = %v", titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles[%d] = %q, want %q", i, titles[i], want[i])
		}
	}
}
