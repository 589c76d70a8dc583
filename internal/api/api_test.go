package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ocbridge/internal/admission"
	"ocbridge/internal/audit"
	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/config"
	"ocbridge/internal/driver"
	"ocbridge/internal/idempotency"
	"ocbridge/internal/metrics"
	"ocbridge/internal/ratelimit"
	"ocbridge/internal/session"
)

// fakeDriver scripts the UI layer. The default Ask echoes a canned reply.
type fakeDriver struct {
	mu     sync.Mutex
	asks   []driver.AskRequest
	askFn  func(ctx context.Context, req driver.AskRequest) (driver.AskResult, error)
	health driver.Health
	convos []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{health: driver.Health{OK: true, Accessibility: "granted"}}
}

func (f *fakeDriver) Health(context.Context) driver.Health { return f.health }

func (f *fakeDriver) Ask(ctx context.Context, req driver.AskRequest) (driver.AskResult, error) {
	f.mu.Lock()
	f.asks = append(f.asks, req)
	fn := f.askFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return driver.AskResult{Text: "canned reply", ExtractionMode: "marker"}, nil
}

func (f *fakeDriver) Conversations(context.Context, string) ([]string, error) {
	return f.convos, nil
}

func (f *fakeDriver) askCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.asks)
}

func (f *fakeDriver) lastAsk(t *testing.T) driver.AskRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.asks) == 0 {
		t.Fatal("driver was never asked")
	}
	return f.asks[len(f.asks)-1]
}

type env struct {
	routes http.Handler
	drv    *fakeDriver
	store  *session.Store
}

func newEnv(t *testing.T, drv *fakeDriver, mutate func(cfg *config.Config)) *env {
	t.Helper()

	cfg := &config.Config{
		Mode:            "http",
		MaxQueueSize:    5,
		JobTimeout:      2 * time.Second,
		MaxPromptChars:  512_000,
		MaxMessageChars: 512_000,
		MaxBodyBytes:    1 << 20,
		Session:         config.SessionConfig{Mode: "off", DefaultSlot: "default"},
		Idempotency:     config.IdempotencyConfig{TTL: time.Minute},
	}
	if mutate != nil {
		mutate(cfg)
	}

	queue := admission.NewQueue(cfg.MaxQueueSize, cfg.JobTimeout, nil)
	t.Cleanup(queue.Close)
	gate := admission.NewGate(queue)

	mode, ok := session.ParseMode(cfg.Session.Mode)
	if !ok {
		t.Fatalf("bad session mode %q", cfg.Session.Mode)
	}
	store, err := session.Open(cfg.Session.BindingsPath)
	if err != nil {
		t.Fatalf("open bindings: %v", err)
	}
	router := session.NewRouter(mode, cfg.Session.DefaultSlot, cfg.Session.StrictOpen, store)

	var bucket *ratelimit.TokenBucket
	if cfg.RateLimit.RPM > 0 {
		bucket = ratelimit.New(cfg.RateLimit.RPM, cfg.RateLimit.Burst)
	}
	var idem idempotency.Store
	if cfg.Idempotency.Enabled {
		idem = idempotency.NewMemoryStore(cfg.Idempotency.TTL)
	}

	auditor, err := audit.New(audit.Config{})
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(cfg, drv, gate, queue, router, bucket, idem, auditor, metrics.New(),
		[]byte("marker-secret"), "test")
	return &env{routes: h.Routes(), drv: drv, store: store}
}

func do(e *env, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.routes.ServeHTTP(w, req)
	return w
}

func chatBody(content string, extra string) string {
	quoted, _ := json.Marshal(content)
	b := `{"model":"gpt-4","messages":[{"role":"user","content":` + string(quoted) + `}]`
	if extra != "" {
		b += "," + extra
	}
	return b + "}"
}

type wireErrBody struct {
	Error struct {
		Message       string `json:"message"`
		Type          string `json:"type"`
		Code          string `json:"code"`
		RetryAfterSec int    `json:"retry_after_sec"`
	} `json:"error"`
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) wireErrBody {
	t.Helper()
	var e wireErrBody
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body not JSON: %v\n%s", err, w.Body.String())
	}
	return e
}

func TestChatCompletionsHappyPath(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.askFn = func(_ context.Context, req driver.AskRequest) (driver.AskResult, error) {
		return driver.AskResult{Text: "Paris.", ContextReset: 1, ExtractionMode: "marker"}, nil
	}
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("What is the capital of France?", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", w.Code, w.Body.String())
	}

	var c ChatCompletion
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("body: %v", err)
	}
	if c.Object != "chat.completion" || c.Model != ModelID {
		t.Errorf("completion = %+v", c)
	}
	if !strings.HasPrefix(c.ID, "chatcmpl-") {
		t.Errorf("id = %q", c.ID)
	}
	if len(c.Choices) != 1 || c.Choices[0].Message.Content != "Paris." || c.Choices[0].FinishReason != "stop" {
		t.Errorf("choices = %+v", c.Choices)
	}
	if c.Usage.TotalTokens != c.Usage.PromptTokens+c.Usage.CompletionTokens {
		t.Errorf("usage = %+v", c.Usage)
	}

	h := w.Header()
	if h.Get("x-bridge-context-reset") != "1" {
		t.Errorf("x-bridge-context-reset = %q", h.Get("x-bridge-context-reset"))
	}
	if h.Get("x-bridge-request-id") == "" || h.Get("x-bridge-version") != "test" {
		t.Errorf("headers = %v", h)
	}

	ask := drv.lastAsk(t)
	if ask.Marker == "" || !strings.Contains(ask.Marker, "[[OC=") {
		t.Errorf("marker = %q", ask.Marker)
	}
	if !strings.HasSuffix(ask.Prompt, ask.Marker) {
		t.Errorf("prompt does not end with the marker:\n%s", ask.Prompt)
	}
	if !strings.Contains(ask.Prompt, "What is the capital of France?") {
		t.Errorf("prompt lost the user text:\n%s", ask.Prompt)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), func(cfg *config.Config) { cfg.Token = "sekrit" })

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("hello", ""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing auth status = %d", w.Code)
	}
	eb := decodeErr(t, w)
	if eb.Error.Type != "authentication_error" || eb.Error.Code != "unauthorized" {
		t.Errorf("error = %+v", eb.Error)
	}
	if w.Header().Get("x-bridge-context-reset") != "0" {
		t.Errorf("x-bridge-context-reset = %q, want 0 on auth failure", w.Header().Get("x-bridge-context-reset"))
	}
	if w.Header().Get("x-should-retry") != "false" {
		t.Errorf("x-should-retry = %q", w.Header().Get("x-should-retry"))
	}

	w = do(e, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer wrong"}, chatBody("hello", ""))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d", w.Code)
	}

	w = do(e, http.MethodPost, "/v1/chat/completions",
		map[string]string{"Authorization": "Bearer sekrit"}, chatBody("hello", ""))
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d\n%s", w.Code, w.Body.String())
	}

	// Health stays open without a token.
	if w := do(e, http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestDuplicateRequestsCoalesce(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	drv.askFn = func(context.Context, driver.AskRequest) (driver.AskResult, error) {
		once.Do(func() { close(started) })
		<-release
		return driver.AskResult{Text: "single UI transaction"}, nil
	}
	e := newEnv(t, drv, nil)

	body := chatBody("identical prompt", "")
	type result struct {
		code int
		body string
	}
	results := make(chan result, 2)
	run := func() {
		w := do(e, http.MethodPost, "/v1/chat/completions", nil, body)
		results <- result{w.Code, w.Body.String()}
	}

	go run()
	<-started
	go run()
	time.Sleep(100 * time.Millisecond)
	close(release)

	first := <-results
	second := <-results
	if first.code != http.StatusOK || second.code != http.StatusOK {
		t.Fatalf("codes = %d, %d", first.code, second.code)
	}
	if first.body != second.body {
		t.Errorf("coalesced bodies differ:\n%s\n%s", first.body, second.body)
	}
	if n := drv.askCount(); n != 1 {
		t.Errorf("driver asked %d times, want 1", n)
	}
}

func TestMismatchedConcurrentRequestConflicts(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	started := make(chan struct{})
	release := make(chan struct{})
	drv.askFn = func(context.Context, driver.AskRequest) (driver.AskResult, error) {
		close(started)
		<-release
		return driver.AskResult{Text: "first answer"}, nil
	}
	e := newEnv(t, drv, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("first prompt", ""))
	}()
	<-started

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("a different prompt", ""))
	if w.Code != http.StatusConflict {
		t.Fatalf("mismatch status = %d\n%s", w.Code, w.Body.String())
	}
	if eb := decodeErr(t, w); eb.Error.Code != "previous_response_pending" {
		t.Errorf("error = %+v", eb.Error)
	}
	close(release)

	if first := <-done; first.Code != http.StatusOK {
		t.Errorf("first request status = %d", first.Code)
	}
}

func TestMetricsReportQueueDepth(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	started := make(chan struct{})
	release := make(chan struct{})
	drv.askFn = func(context.Context, driver.AskRequest) (driver.AskResult, error) {
		close(started)
		<-release
		return driver.AskResult{Text: "answer"}, nil
	}
	e := newEnv(t, drv, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("slow prompt", ""))
	}()
	<-started

	w := do(e, http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bridge_queue_depth 1") {
		t.Errorf("gauge does not track the in-flight job:\n%s", w.Body.String())
	}
	close(release)

	if first := <-done; first.Code != http.StatusOK {
		t.Errorf("in-flight request status = %d", first.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{RPM: 1, Burst: 1}
	})

	if w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("first", "")); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("second", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("limited status = %d", w.Code)
	}
	if eb := decodeErr(t, w); eb.Error.Code != "queue_full" || eb.Error.Type != "rate_limit_error" {
		t.Errorf("error = %+v", eb.Error)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if w.Header().Get("x-should-retry") != "false" {
		t.Errorf("x-should-retry = %q", w.Header().Get("x-should-retry"))
	}
}

func TestStreamFrames(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.askFn = func(context.Context, driver.AskRequest) (driver.AskResult, error) {
		return driver.AskResult{Text: "streamed answer"}, nil
	}
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("stream this", `"stream":true`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := parseFrames(t, w.Body.String())
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3:\n%s", len(frames), w.Body.String())
	}
	if frames[2] != "[DONE]" {
		t.Errorf("last frame = %q", frames[2])
	}

	var role, content ChatCompletionChunk
	if err := json.Unmarshal([]byte(frames[0]), &role); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(frames[1]), &content); err != nil {
		t.Fatal(err)
	}
	if role.Object != "chat.completion.chunk" || role.Choices[0].Delta.Role != "assistant" || role.Choices[0].FinishReason != nil {
		t.Errorf("role frame = %+v", role)
	}
	if content.Choices[0].Delta.Content != "streamed answer" {
		t.Errorf("content frame = %+v", content)
	}
	if content.Choices[0].FinishReason == nil || *content.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %v", content.Choices[0].FinishReason)
	}
	if role.ID != content.ID {
		t.Errorf("frame ids differ: %q vs %q", role.ID, content.ID)
	}
}

func TestStreamErrorFrame(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.askFn = func(context.Context, driver.AskRequest) (driver.AskResult, error) {
		return driver.AskResult{}, bridgeerr.New(bridgeerr.CodeUsageCap, "usage cap hit").WithRetryAfter(300)
	}
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("stream this", `"stream":true`))
	frames := parseFrames(t, w.Body.String())
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want a single error frame:\n%s", len(frames), w.Body.String())
	}
	if frames[0] == "[DONE]" {
		t.Fatal("error stream terminated with [DONE]")
	}
	var eb wireErrBody
	if err := json.Unmarshal([]byte(frames[0]), &eb); err != nil {
		t.Fatal(err)
	}
	if eb.Error.Code != "usage_cap" {
		t.Errorf("error frame = %+v", eb.Error)
	}
}

func parseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("malformed frame: %q", block)
		}
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	return frames
}

func TestStickySessionPersistence(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.askFn = func(_ context.Context, req driver.AskRequest) (driver.AskResult, error) {
		return driver.AskResult{Text: "ok", OpenedConversationID: "Project Alpha"}, nil
	}
	e := newEnv(t, drv, func(cfg *config.Config) {
		cfg.Session = config.SessionConfig{
			Mode:         "sticky",
			DefaultSlot:  "default",
			BindingsPath: filepath.Join(t.TempDir(), "bindings.json"),
		}
	})

	w := do(e, http.MethodPost, "/v1/chat/completions", nil,
		chatBody("first question", `"session_key":"slot-a","conversation_id":"Project Alpha"`))
	if w.Code != http.StatusOK {
		t.Fatalf("first status = %d\n%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("x-bridge-conversation-id"); got != "Project Alpha" {
		t.Errorf("x-bridge-conversation-id = %q", got)
	}
	if conv, ok := e.store.Get("slot-a"); !ok || conv != "Project Alpha" {
		t.Errorf("binding = %q, %v", conv, ok)
	}

	w = do(e, http.MethodPost, "/v1/chat/completions", nil,
		chatBody("follow-up question", `"session_key":"slot-a"`))
	if w.Code != http.StatusOK {
		t.Fatalf("second status = %d", w.Code)
	}
	if got := w.Header().Get("x-bridge-conversation-id"); got != "Project Alpha" {
		t.Errorf("second x-bridge-conversation-id = %q", got)
	}
	if ask := drv.lastAsk(t); ask.ConversationID != "Project Alpha" {
		t.Errorf("driver conversation = %q, want the persisted binding", ask.ConversationID)
	}
	if got := w.Header().Get("x-bridge-session-slot"); got != "slot-a" {
		t.Errorf("x-bridge-session-slot = %q", got)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), func(cfg *config.Config) { cfg.MaxBodyBytes = 128 })

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody(strings.Repeat("x", 500), ""))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", w.Code)
	}
	if eb := decodeErr(t, w); eb.Error.Code != "prompt_too_large" {
		t.Errorf("error = %+v", eb.Error)
	}
}

func TestMessageSizeLimit(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), func(cfg *config.Config) { cfg.MaxMessageChars = 10 })

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("0123456789x", ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if eb := decodeErr(t, w); eb.Error.Code != "prompt_too_large" {
		t.Errorf("error = %+v", eb.Error)
	}
}

func TestInvalidRequests(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), nil)

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d", w.Code)
	}

	w = do(e, http.MethodPost, "/v1/chat/completions", nil, `{"model":"gpt-4","messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty messages status = %d", w.Code)
	}
	if eb := decodeErr(t, w); eb.Error.Code != "invalid_request" || eb.Error.Type != "invalid_request_error" {
		t.Errorf("error = %+v", eb.Error)
	}
}

func TestAnnounceSkipsUI(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("New session started", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var c ChatCompletion
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if c.Choices[0].Message.Content != "ANNOUNCE_SKIP" {
		t.Errorf("content = %q", c.Choices[0].Message.Content)
	}
	if drv.askCount() != 0 {
		t.Error("announce prompt reached the UI")
	}
}

func TestIdempotencyReplay(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	e := newEnv(t, drv, func(cfg *config.Config) { cfg.Idempotency.Enabled = true })

	headers := map[string]string{"Idempotency-Key": "retry-key-1"}
	body := chatBody("idempotent prompt", "")

	first := do(e, http.MethodPost, "/v1/chat/completions", headers, body)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	if first.Header().Get("x-bridge-idempotent-replay") != "" {
		t.Error("first response marked as replay")
	}

	second := do(e, http.MethodPost, "/v1/chat/completions", headers, body)
	if second.Code != http.StatusOK {
		t.Fatalf("second status = %d", second.Code)
	}
	if second.Header().Get("x-bridge-idempotent-replay") != "true" {
		t.Error("replay header missing")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if n := drv.askCount(); n != 1 {
		t.Errorf("driver asked %d times, want 1", n)
	}
}

func TestPreflightFailure(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.health = driver.Health{OK: false, Accessibility: "granted",
		Code: string(bridgeerr.CodeAppNotRunning), Message: "chat app is not running"}
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("hello", ""))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if eb := decodeErr(t, w); eb.Error.Code != "app_not_running" {
		t.Errorf("error = %+v", eb.Error)
	}
	if drv.askCount() != 0 {
		t.Error("failed preflight still reached Ask")
	}
}

func TestModels(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), nil)
	w := do(e, http.MethodGet, "/v1/models", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "list" || len(resp.Data) != 1 || resp.Data[0].ID != ModelID {
		t.Errorf("models = %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.health = driver.Health{OK: false, Accessibility: "denied",
		Code: string(bridgeerr.CodeAccessibilityDenied)}
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		OK    bool `json:"ok"`
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.Ready {
		t.Errorf("health = %+v, want alive but not ready", resp)
	}
}

func TestConversations(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.convos = []string{"Project Alpha", "Scratch"}
	e := newEnv(t, drv, nil)

	w := do(e, http.MethodGet, "/v1/bridge/conversations", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Conversations []string `json:"conversations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Conversations) != 2 || resp.Conversations[0] != "Project Alpha" {
		t.Errorf("conversations = %v", resp.Conversations)
	}
}

func TestSessionsSurface(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), func(cfg *config.Config) {
		cfg.Session = config.SessionConfig{
			Mode:         "sticky",
			DefaultSlot:  "default",
			BindingsPath: filepath.Join(t.TempDir(), "bindings.json"),
		}
	})
	if err := e.store.Set("slot-a", "Project Alpha"); err != nil {
		t.Fatal(err)
	}

	w := do(e, http.MethodGet, "/v1/bridge/sessions", nil, "")
	var resp struct {
		Mode     string            `json:"mode"`
		Bindings map[string]string `json:"bindings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != "sticky" || resp.Bindings["slot-a"] != "Project Alpha" {
		t.Errorf("sessions = %+v", resp)
	}

	w = do(e, http.MethodDelete, "/v1/bridge/sessions/SLOT-A", nil, "")
	var del struct {
		Slot    string `json:"slot"`
		Deleted bool   `json:"deleted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &del); err != nil {
		t.Fatal(err)
	}
	if del.Slot != "slot-a" || !del.Deleted {
		t.Errorf("delete = %+v", del)
	}
	if _, ok := e.store.Get("slot-a"); ok {
		t.Error("binding survived delete")
	}

	w = do(e, http.MethodDelete, "/v1/bridge/sessions/slot-a", nil, "")
	if err := json.Unmarshal(w.Body.Bytes(), &del); err != nil {
		t.Fatal(err)
	}
	if del.Deleted {
		t.Error("second delete reported deleted")
	}
}

func TestRequestIDEcho(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), nil)

	w := do(e, http.MethodGet, "/health", map[string]string{"x-request-id": "client-id-42"}, "")
	if got := w.Header().Get("x-bridge-request-id"); got != "client-id-42" {
		t.Errorf("x-bridge-request-id = %q, want the client id echoed", got)
	}

	w = do(e, http.MethodGet, "/health", map[string]string{"x-request-id": "has spaces !"}, "")
	if got := w.Header().Get("x-bridge-request-id"); got == "has spaces !" || got == "" {
		t.Errorf("malformed client id echoed: %q", got)
	}
}

func TestExplicitModeRequiresConversation(t *testing.T) {
	t.Parallel()

	e := newEnv(t, newFakeDriver(), func(cfg *config.Config) {
		cfg.Session = config.SessionConfig{Mode: "explicit", DefaultSlot: "default"}
	})

	w := do(e, http.MethodPost, "/v1/chat/completions", nil, chatBody("hello", ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if eb := decodeErr(t, w); eb.Error.Code != "invalid_request" {
		t.Errorf("error = %+v", eb.Error)
	}
}
