// ocbridge - OpenAI-compatible HTTP bridge over the desktop chat app.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ocbridge/internal/admission"
	"ocbridge/internal/api"
	"ocbridge/internal/audit"
	"ocbridge/internal/automation"
	"ocbridge/internal/config"
	"ocbridge/internal/driver"
	"ocbridge/internal/extract"
	"ocbridge/internal/idempotency"
	"ocbridge/internal/marker"
	"ocbridge/internal/metrics"
	"ocbridge/internal/poll"
	"ocbridge/internal/ratelimit"
	"ocbridge/internal/session"
	"ocbridge/internal/uierrors"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting bridge", "addr", cfg.Addr(), "version", version)

	secret := marker.SecretFromEnv(cfg.MarkerSecret)

	patterns := uierrors.Defaults()
	if cfg.UI.ErrorPatternsJSON != "" {
		patterns, err = uierrors.Parse(cfg.UI.ErrorPatternsJSON)
		if err != nil {
			slog.Error("Invalid UI_ERROR_PATTERNS_JSON", "error", err)
			os.Exit(1)
		}
	}

	pollCfg := poll.Config{
		Interval:                    cfg.PollInterval,
		MaxWait:                     cfg.MaxWait,
		StableChecks:                cfg.StableChecks,
		NoIndicatorStable:           cfg.NoIndicatorStable,
		ScrapeTimeout:               cfg.ScrapeCallTimeout,
		RequireCompletionIndicators: cfg.UI.RequireCompletionIndicators,
		CompletionLabels:            []string{cfg.UI.LabelRegenerate, cfg.UI.LabelContinue},
		ErrorPatterns:               patterns,
		Extract: extract.Config{
			RegenerateLabel: cfg.UI.LabelRegenerate,
			ContinueLabel:   cfg.UI.LabelContinue,
		},
	}

	auto := automation.New(automation.Config{
		AppName:      "ChatGPT",
		LabelNewChat: cfg.UI.LabelNewChat,
	})
	drv := driver.New(auto, pollCfg)

	m := metrics.New()
	queue := admission.NewQueue(cfg.MaxQueueSize, cfg.JobTimeout, func(name string, late time.Duration, _ error) {
		m.LateOutcomes.Inc()
		slog.Warn("Job settled after caller timeout", "job", name, "late", late)
	})
	defer queue.Close()
	gate := admission.NewGate(queue)

	store, err := session.Open(cfg.Session.BindingsPath)
	if err != nil {
		slog.Error("Failed to open session bindings", "error", err)
		os.Exit(1)
	}
	mode, ok := session.ParseMode(cfg.Session.Mode)
	if !ok {
		slog.Error("Invalid SESSION_BINDING_MODE", "value", cfg.Session.Mode)
		os.Exit(1)
	}
	router := session.NewRouter(mode, cfg.Session.DefaultSlot, cfg.Session.StrictOpen, store)

	var bucket *ratelimit.TokenBucket
	if cfg.RateLimit.RPM > 0 {
		bucket = ratelimit.New(cfg.RateLimit.RPM, cfg.RateLimit.Burst)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var idem idempotency.Store
	if cfg.Idempotency.Enabled {
		switch cfg.Idempotency.Backend {
		case "sqlite":
			idem, err = idempotency.NewSQLite(cfg.Idempotency.DBPath, cfg.Idempotency.TTL)
			if err != nil {
				slog.Error("Failed to open idempotency store", "error", err)
				os.Exit(1)
			}
		default:
			idem = idempotency.NewMemoryStore(cfg.Idempotency.TTL)
		}
		defer idem.Close()
		idempotency.StartSweeper(ctx, idem, cfg.Idempotency.Sweep)
	}

	auditMode, ok := audit.ParseMode(cfg.Audit.Mode)
	if !ok {
		slog.Error("Invalid AUDIT_LOG_MODE", "value", cfg.Audit.Mode)
		os.Exit(1)
	}
	auditor, err := audit.New(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		Path:       cfg.Audit.Path,
		MaxBytes:   cfg.Audit.MaxBytes,
		MaxFiles:   cfg.Audit.MaxFiles,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
		Mode:       auditMode,
		QueueSize:  cfg.Audit.QueueSize,
	})
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditor.Close(); closeErr != nil {
			slog.Error("Failed to close audit log", "error", closeErr)
		}
	}()

	handler := api.NewHandler(cfg, drv, gate, queue, router, bucket, idem, auditor, m, secret, version)

	// Note: SSE responses require no write timeout.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadTimeout:       cfg.RequestTimeout(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout(),
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
