package driver

import (
	"context"
	"log/slog"
	"sync"

	"ocbridge/internal/bridgeerr"
)

// clipboardMu is process-wide: the pasteboard is a global resource and must
// be held across the whole paste-and-submit window. Non-text clipboard
// content does not round-trip; that loss is accepted.
var clipboardMu sync.Mutex

// pasteAndSubmit places the prompt on the clipboard, pastes it into the
// focused composer, submits, and restores the previous clipboard contents
// on every exit path.
func (d *UIDriver) pasteAndSubmit(ctx context.Context, promptText string) error {
	clipboardMu.Lock()
	defer clipboardMu.Unlock()

	previous, readErr := d.auto.ReadClipboard(ctx)
	if readErr != nil {
		slog.Warn("could not read clipboard before paste; previous contents will not be restored", "error", readErr)
	}
	defer func() {
		if readErr != nil {
			return
		}
		// Restore with a fresh context: the request context may already be
		// done, and the user's clipboard must come back regardless.
		restoreCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ScrapeTimeout)
		defer cancel()
		if err := d.auto.WriteClipboard(restoreCtx, previous); err != nil {
			slog.Warn("failed to restore clipboard contents", "error", err)
		}
	}()

	if err := d.auto.WriteClipboard(ctx, promptText); err != nil {
		return bridgeerr.New(bridgeerr.CodeUIError, "failed to place prompt on clipboard").WithCause(err)
	}
	if err := d.auto.Paste(ctx); err != nil {
		return bridgeerr.New(bridgeerr.CodeUIError, "paste keystroke failed").WithCause(err)
	}
	if err := d.auto.Submit(ctx); err != nil {
		return bridgeerr.New(bridgeerr.CodeUIError, "submit failed").WithCause(err)
	}
	return nil
}
