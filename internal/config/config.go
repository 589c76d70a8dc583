// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Mode        string
	HTTPHost    string
	HTTPPort    string
	CORSOrigins []string

	Token        string
	MarkerSecret string

	MaxQueueSize int
	JobTimeout   time.Duration

	MaxWait           time.Duration
	PollInterval      time.Duration
	StableChecks      int
	NoIndicatorStable time.Duration
	ScrapeCallTimeout time.Duration

	MaxPromptChars  int
	MaxMessageChars int
	MaxBodyBytes    int64

	FileContext FileContextConfig
	RateLimit   RateLimitConfig
	UI          UIConfig
	Session     SessionConfig
	Audit       AuditConfig
	Idempotency IdempotencyConfig

	LogLevel string
}

// FileContextConfig gates file-context expansion.
type FileContextConfig struct {
	Enabled       bool
	AllowedRoots  []string
	MaxFiles      int
	MaxFileChars  int
	MaxTotalChars int
}

// RateLimitConfig controls the local token bucket. RPM <= 0 disables it.
type RateLimitConfig struct {
	RPM   int
	Burst int
}

// UIConfig holds desktop-app automation knobs.
type UIConfig struct {
	LabelNewChat                string
	LabelRegenerate             string
	LabelContinue               string
	RequireCompletionIndicators bool
	ErrorPatternsJSON           string
	ResetEachRequest            bool
	ResetStrict                 bool
}

// SessionConfig controls conversation routing and bindings persistence.
type SessionConfig struct {
	Mode         string
	DefaultSlot  string
	BindingsPath string
	StrictOpen   bool
}

// AuditConfig controls the raw audit log.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxBytes   int64
	MaxFiles   int
	MaxAgeDays int
	Mode       string
	QueueSize  int
}

// IdempotencyConfig controls the Idempotency-Key replay store.
type IdempotencyConfig struct {
	Enabled bool
	Backend string // "memory" or "sqlite"
	DBPath  string
	TTL     time.Duration
	Sweep   time.Duration
}

// Load reads configuration from environment variables, applies optional YAML
// overrides from BRIDGE_CONFIG_FILE, then validates and clamps.
func Load() (*Config, error) {
	cfg := &Config{
		Mode:        strings.ToLower(getEnv("BRIDGE_MODE", "http")),
		HTTPHost:    getEnv("HTTP_HOST", "127.0.0.1"),
		HTTPPort:    getEnv("HTTP_PORT", "8143"),
		CORSOrigins: splitCommaList(getEnv("HTTP_CORS_ORIGINS", "")),

		Token:        getEnv("CHATGPT_BRIDGE_TOKEN", ""),
		MarkerSecret: getEnv("MARKER_SECRET", ""),

		MaxQueueSize: getEnvInt("MAX_QUEUE_SIZE", 20),
		JobTimeout:   time.Duration(getEnvInt("JOB_TIMEOUT_MS", 150_000)) * time.Millisecond,

		MaxWait:           time.Duration(getEnvInt("MAX_WAIT_SEC", 120)) * time.Second,
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL_SEC", 1)) * time.Second,
		StableChecks:      getEnvInt("STABLE_CHECKS", 3),
		NoIndicatorStable: time.Duration(getEnvInt("EXTRACT_NO_INDICATOR_STABLE_MS", 6000)) * time.Millisecond,
		ScrapeCallTimeout: time.Duration(getEnvInt("SCRAPE_CALL_TIMEOUT_MS", 10_000)) * time.Millisecond,

		MaxPromptChars:  getEnvInt("MAX_PROMPT_CHARS", 512_000),
		MaxMessageChars: getEnvInt("MAX_MESSAGE_CHARS", 512_000),
		MaxBodyBytes:    getEnvInt64("HTTP_MAX_BODY_BYTES", 10<<20),

		FileContext: FileContextConfig{
			Enabled:       getEnvBool("FILE_CONTEXT_ENABLED", false),
			AllowedRoots:  splitPathList(getEnv("FILE_CONTEXT_ALLOWED_ROOTS", "")),
			MaxFiles:      getEnvInt("FILE_CONTEXT_MAX_FILES", 8),
			MaxFileChars:  getEnvInt("FILE_CONTEXT_MAX_FILE_CHARS", 64_000),
			MaxTotalChars: getEnvInt("FILE_CONTEXT_MAX_TOTAL_CHARS", 256_000),
		},
		RateLimit: RateLimitConfig{
			RPM:   getEnvInt("RATE_LIMIT_RPM", 0),
			Burst: getEnvInt("RATE_LIMIT_BURST", 3),
		},
		UI: UIConfig{
			LabelNewChat:                getEnv("UI_LABEL_NEW_CHAT", "New chat"),
			LabelRegenerate:             getEnv("UI_LABEL_REGENERATE", "Regenerate"),
			LabelContinue:               getEnv("UI_LABEL_CONTINUE", "Continue generating"),
			RequireCompletionIndicators: getEnvBool("REQUIRE_COMPLETION_INDICATORS", false),
			ErrorPatternsJSON:           getEnv("UI_ERROR_PATTERNS_JSON", ""),
			ResetEachRequest:            getEnvBool("RESET_CHAT_EACH_REQUEST", false),
			ResetStrict:                 getEnvBool("RESET_STRICT", false),
		},
		Session: SessionConfig{
			Mode:         getEnv("SESSION_BINDING_MODE", "off"),
			DefaultSlot:  getEnv("SESSION_DEFAULT_SLOT", "default"),
			BindingsPath: getEnv("SESSION_BINDINGS_PATH", "./data/bindings.json"),
			StrictOpen:   getEnvBool("SESSION_BINDING_STRICT_OPEN", false),
		},
		Audit: AuditConfig{
			Enabled:    getEnvBool("AUDIT_LOG_ENABLED", false),
			Path:       getEnv("AUDIT_LOG_PATH", "./data/audit/raw.jsonl"),
			MaxBytes:   getEnvInt64("AUDIT_LOG_MAX_BYTES", 10<<20),
			MaxFiles:   getEnvInt("AUDIT_LOG_MAX_FILES", 5),
			MaxAgeDays: getEnvInt("AUDIT_LOG_MAX_AGE_DAYS", 14),
			Mode:       getEnv("AUDIT_LOG_MODE", "full"),
			QueueSize:  getEnvInt("AUDIT_LOG_QUEUE_SIZE", 1000),
		},
		Idempotency: IdempotencyConfig{
			Enabled: getEnvBool("IDEMPOTENCY_ENABLED", false),
			Backend: getEnv("IDEMPOTENCY_BACKEND", "memory"),
			DBPath:  getEnv("IDEMPOTENCY_DB_PATH", "./data/idempotency.db"),
			TTL:     time.Duration(getEnvInt("IDEMPOTENCY_TTL_SEC", 600)) * time.Second,
			Sweep:   time.Duration(getEnvInt("IDEMPOTENCY_SWEEP_SEC", 60)) * time.Second,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := getEnv("BRIDGE_CONFIG_FILE", ""); path != "" {
		if err := applyOverrides(cfg, path); err != nil {
			return nil, fmt.Errorf("apply config overrides: %w", err)
		}
	}

	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// clamp enforces the relations between timeouts.
func (c *Config) clamp() {
	// The job timeout must outlast the poll deadline plus submit/extract
	// overhead, or every long ask gets cut off at admission.
	if min := c.MaxWait + 15*time.Second; c.JobTimeout < min {
		c.JobTimeout = min
	}
	if c.StableChecks <= 0 {
		c.StableChecks = 3
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.Mode {
	case "http":
	case "stdio":
		return fmt.Errorf("BRIDGE_MODE=stdio is not supported by this build; use http")
	default:
		return fmt.Errorf("BRIDGE_MODE must be http, got %q", c.Mode)
	}
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("HTTP_PORT must be numeric: %w", err)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("MAX_WAIT_SEC must be > 0")
	}
	if c.MaxPromptChars <= 0 || c.MaxMessageChars <= 0 {
		return fmt.Errorf("prompt size limits must be > 0")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("HTTP_MAX_BODY_BYTES must be > 0")
	}
	if c.FileContext.Enabled && len(c.FileContext.AllowedRoots) == 0 {
		return fmt.Errorf("FILE_CONTEXT_ALLOWED_ROOTS is required when FILE_CONTEXT_ENABLED is set")
	}
	switch c.Idempotency.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be memory or sqlite, got %q", c.Idempotency.Backend)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (c *Config) Addr() string {
	return c.HTTPHost + ":" + c.HTTPPort
}

// RequestTimeout is the per-request HTTP deadline: the effective job timeout
// plus margin so admission, not the server, decides the outcome.
func (c *Config) RequestTimeout() time.Duration {
	return c.JobTimeout + 5*time.Second
}

// ReadHeaderTimeout sits above the request timeout.
func (c *Config) ReadHeaderTimeout() time.Duration {
	return c.RequestTimeout() + time.Second
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitPathList(s string) []string {
	var roots []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		part = strings.TrimSpace(part)
		if part != "" {
			roots = append(roots, part)
		}
	}
	return roots
}
