package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "http" {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if got := cfg.Addr(); got != "127.0.0.1:8143" {
		t.Errorf("Addr = %q", got)
	}
	if cfg.MaxQueueSize != 20 {
		t.Errorf("MaxQueueSize = %d", cfg.MaxQueueSize)
	}
	if cfg.JobTimeout != 150*time.Second {
		t.Errorf("JobTimeout = %v", cfg.JobTimeout)
	}
	if cfg.MaxWait != 120*time.Second {
		t.Errorf("MaxWait = %v", cfg.MaxWait)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.MaxBodyBytes != 10<<20 {
		t.Errorf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
	if cfg.Session.Mode != "off" || cfg.Session.DefaultSlot != "default" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.Idempotency.Backend != "memory" {
		t.Errorf("Idempotency.Backend = %q", cfg.Idempotency.Backend)
	}
	if cfg.RequestTimeout() != cfg.JobTimeout+5*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout())
	}
}

func TestLoadClampsJobTimeoutToMaxWait(t *testing.T) {
	t.Setenv("MAX_WAIT_SEC", "120")
	t.Setenv("JOB_TIMEOUT_MS", "30000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := 135 * time.Second; cfg.JobTimeout != want {
		t.Errorf("JobTimeout = %v, want clamped to %v", cfg.JobTimeout, want)
	}
}

func TestLoadRejectsStdioMode(t *testing.T) {
	t.Setenv("BRIDGE_MODE", "stdio")

	if _, err := Load(); err == nil {
		t.Fatal("stdio mode accepted")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("BRIDGE_MODE", "grpc")

	if _, err := Load(); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "eight-thousand")

	if _, err := Load(); err == nil {
		t.Fatal("non-numeric port accepted")
	}
}

func TestLoadFileContextRequiresRoots(t *testing.T) {
	t.Setenv("FILE_CONTEXT_ENABLED", "true")
	t.Setenv("FILE_CONTEXT_ALLOWED_ROOTS", "")

	if _, err := Load(); err == nil {
		t.Fatal("file context enabled without roots accepted")
	}

	t.Setenv("FILE_CONTEXT_ALLOWED_ROOTS", "/srv/projects")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.FileContext.AllowedRoots) != 1 || cfg.FileContext.AllowedRoots[0] != "/srv/projects" {
		t.Errorf("AllowedRoots = %v", cfg.FileContext.AllowedRoots)
	}
}

func TestLoadRejectsUnknownIdempotencyBackend(t *testing.T) {
	t.Setenv("IDEMPOTENCY_BACKEND", "redis")

	if _, err := Load(); err == nil {
		t.Fatal("unknown idempotency backend accepted")
	}
}

func TestLoadAppliesYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
http_port: "9000"
max_wait_sec: 30
poll_interval_ms: 250
stable_checks: 5
session:
  mode: sticky
  default_slot: work
file_context:
  enabled: true
  allowed_roots:
    - /srv/projects
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRIDGE_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "9000" {
		t.Errorf("HTTPPort = %q", cfg.HTTPPort)
	}
	if cfg.MaxWait != 30*time.Second || cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("MaxWait = %v, PollInterval = %v", cfg.MaxWait, cfg.PollInterval)
	}
	if cfg.StableChecks != 5 {
		t.Errorf("StableChecks = %d", cfg.StableChecks)
	}
	if cfg.Session.Mode != "sticky" || cfg.Session.DefaultSlot != "work" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if !cfg.FileContext.Enabled || len(cfg.FileContext.AllowedRoots) != 1 {
		t.Errorf("FileContext = %+v", cfg.FileContext)
	}
	// Untouched keys keep their env defaults.
	if cfg.HTTPHost != "127.0.0.1" {
		t.Errorf("HTTPHost = %q", cfg.HTTPHost)
	}
}

func TestLoadEnvBoolParsing(t *testing.T) {
	t.Setenv("RESET_CHAT_EACH_REQUEST", "yes")
	t.Setenv("RESET_STRICT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.UI.ResetEachRequest || cfg.UI.ResetStrict {
		t.Errorf("UI = %+v", cfg.UI)
	}
}

func TestLoadBadOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml at all ["), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRIDGE_CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("malformed overrides file accepted")
	}
}
