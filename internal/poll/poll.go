// Package poll drives response readiness: it repeatedly scrapes the
// accessibility tree, screens for known failure banners, runs the extractor,
// and applies the done predicate. The loop is an explicit state machine; all
// per-iteration knowledge lives in the state record.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ocbridge/internal/bridgeerr"
	"ocbridge/internal/extract"
	"ocbridge/internal/marker"
	"ocbridge/internal/uierrors"
)

const (
	// uiUnavailableGrace bounds how long window/app outages are tolerated
	// before the ask fails.
	uiUnavailableGrace = 120 * time.Second
	// scrapeBackoffStep is added to the inner scrape timeout after each
	// timed-out scrape.
	scrapeBackoffStep = 5 * time.Second
	// scrapeBackoffCap bounds the inner scrape timeout growth.
	scrapeBackoffCap = 60 * time.Second
	// progressEvery is the cadence of progress log events.
	progressEvery = 30 * time.Second
)

// Scraper reads one accessibility snapshot. The timeout bounds the single
// scrape call, not the whole poll.
type Scraper interface {
	Scrape(ctx context.Context, timeout time.Duration) (string, error)
}

// Recoverer re-establishes app and window availability during an outage.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// Config holds the tunables of one poll run.
type Config struct {
	Interval                    time.Duration
	MaxWait                     time.Duration
	StableChecks                int
	NoIndicatorStable           time.Duration
	ScrapeTimeout               time.Duration
	RequireCompletionIndicators bool
	CompletionLabels            []string
	ErrorPatterns               []uierrors.Pattern
	Extract                     extract.Config
}

// state is the explicit poll-loop state record.
type state struct {
	prevNormalized     string
	haveResult         bool
	result             extract.Result
	stableCount        int
	stableSince        time.Time
	uiUnavailableSince time.Time
	uiRecoveryAttempts int
	scrapeTimeoutSince time.Time
	scrapeTimeoutCur   time.Duration
	lastFailure        *extract.Failure
	lastProgress       time.Time
}

// Run polls until the reply is stable, a failure banner appears, or the
// deadline expires. anchor is the pre-send prompt (marker-terminated in
// strict mode); preSnapshot is the pre-send scrape for legacy anchors.
func Run(ctx context.Context, scraper Scraper, recoverer Recoverer, anchor, preSnapshot string, cfg Config) (extract.Result, error) {
	if cfg.StableChecks <= 0 {
		cfg.StableChecks = 3
	}
	deadline := time.Now().Add(cfg.MaxWait)
	strictMarker := marker.TrailingMarker(anchor)

	st := state{scrapeTimeoutCur: cfg.ScrapeTimeout, lastProgress: time.Now()}

	for {
		if time.Now().After(deadline) {
			return extract.Result{}, timeoutError(&st, cfg)
		}
		if err := ctx.Err(); err != nil {
			return extract.Result{}, bridgeerr.New(bridgeerr.CodeTimeout, "poll canceled").WithCause(err)
		}

		full, err := scraper.Scrape(ctx, st.scrapeTimeoutCur)
		switch outcome := classifyScrape(err); outcome {
		case scrapeOK:
			st.uiUnavailableSince = time.Time{}
			st.uiRecoveryAttempts = 0
			st.scrapeTimeoutSince = time.Time{}
			st.scrapeTimeoutCur = cfg.ScrapeTimeout

		case scrapeUIUnavailable:
			if st.uiUnavailableSince.IsZero() {
				st.uiUnavailableSince = time.Now()
			}
			st.uiRecoveryAttempts++
			resetStability(&st)
			if time.Since(st.uiUnavailableSince) > uiUnavailableGrace {
				be := bridgeerr.Wrap(err)
				return extract.Result{}, bridgeerr.New(bridgeerr.CodeUIElementNotFound, "UI unavailable beyond recovery grace").
					WithDetail("grace_sec", int(uiUnavailableGrace.Seconds())).
					WithDetail("recovery_attempts", st.uiRecoveryAttempts).
					WithDetail("last_code", string(be.Code)).
					WithCause(err)
			}
			if recoverer != nil {
				if rerr := recoverer.Recover(ctx); rerr != nil {
					slog.Warn("poll recovery attempt failed", "error", rerr, "attempt", st.uiRecoveryAttempts)
				}
			}
			if !sleep(ctx, cfg.Interval) {
				return extract.Result{}, bridgeerr.New(bridgeerr.CodeTimeout, "poll canceled").WithCause(ctx.Err())
			}
			continue

		case scrapeTimedOut:
			if st.scrapeTimeoutSince.IsZero() {
				st.scrapeTimeoutSince = time.Now()
			}
			resetStability(&st)
			grace := uiUnavailableGrace
			if cfg.MaxWait > grace {
				grace = cfg.MaxWait
			}
			if time.Since(st.scrapeTimeoutSince) > grace {
				return extract.Result{}, bridgeerr.New(bridgeerr.CodeTimeout, "scrape timeouts exhausted recovery grace").
					WithDetail("grace_sec", int(grace.Seconds())).
					WithCause(err)
			}
			st.scrapeTimeoutCur += scrapeBackoffStep
			if st.scrapeTimeoutCur > scrapeBackoffCap {
				st.scrapeTimeoutCur = scrapeBackoffCap
			}
			if !sleep(ctx, cfg.Interval) {
				return extract.Result{}, bridgeerr.New(bridgeerr.CodeTimeout, "poll canceled").WithCause(ctx.Err())
			}
			continue

		default: // scrapeFatal
			return extract.Result{}, err
		}

		if uiErr := uierrors.Detect(full, cfg.ErrorPatterns); uiErr != nil {
			return extract.Result{}, uiErr
		}

		res, fail := extract.Extract(full, anchor, preSnapshot, cfg.Extract)
		if fail != nil {
			st.lastFailure = fail
			resetStability(&st)
		} else {
			norm := extract.Normalize(res.Text)
			if st.haveResult && norm == st.prevNormalized {
				st.stableCount++
			} else {
				st.stableCount = 1
				st.stableSince = time.Now()
			}
			st.prevNormalized = norm
			st.result = res
			st.haveResult = true
			st.lastFailure = nil

			if st.stableCount >= cfg.StableChecks &&
				!extract.HasTypingCursor(full) &&
				completionGate(full, &st, cfg) &&
				markerGate(strictMarker, full, res) {
				return res, nil
			}
		}

		if time.Since(st.lastProgress) >= progressEvery {
			st.lastProgress = time.Now()
			slog.Info("waiting for response",
				"stable_count", st.stableCount,
				"have_result", st.haveResult,
				"last_failure", failureReason(st.lastFailure),
				"remaining_sec", int(time.Until(deadline).Seconds()),
			)
		}

		if !sleep(ctx, cfg.Interval) {
			return extract.Result{}, bridgeerr.New(bridgeerr.CodeTimeout, "poll canceled").WithCause(ctx.Err())
		}
	}
}

func completionGate(full string, st *state, cfg Config) bool {
	if extract.CompletionIndicatorsPresent(full, cfg.CompletionLabels) {
		return true
	}
	if cfg.RequireCompletionIndicators {
		return false
	}
	return !st.stableSince.IsZero() && time.Since(st.stableSince) >= cfg.NoIndicatorStable
}

func markerGate(strictMarker, full string, res extract.Result) bool {
	if strictMarker == "" {
		return true
	}
	return res.Mode == extract.ModeMarker && marker.Contains(full)
}

func resetStability(st *state) {
	st.stableCount = 0
	st.stableSince = time.Time{}
	st.prevNormalized = ""
	st.haveResult = false
}

type scrapeOutcome int

const (
	scrapeOK scrapeOutcome = iota
	scrapeUIUnavailable
	scrapeTimedOut
	scrapeFatal
)

func classifyScrape(err error) scrapeOutcome {
	if err == nil {
		return scrapeOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scrapeTimedOut
	}
	if be, ok := bridgeerr.As(err); ok {
		switch be.Code {
		case bridgeerr.CodeUIElementNotFound, bridgeerr.CodeAppNotRunning:
			return scrapeUIUnavailable
		case bridgeerr.CodeTimeout:
			return scrapeTimedOut
		}
	}
	return scrapeFatal
}

func timeoutError(st *state, cfg Config) *bridgeerr.Error {
	err := bridgeerr.Newf(bridgeerr.CodeTimeout, "no stable response within %s", cfg.MaxWait).
		WithDetail("stable_count", st.stableCount).
		WithDetail("stable_checks", cfg.StableChecks)
	if st.lastFailure != nil {
		err = err.WithDetail("reason", string(st.lastFailure.Reason))
	}
	return err
}

func failureReason(f *extract.Failure) string {
	if f == nil {
		return ""
	}
	return string(f.Reason)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
