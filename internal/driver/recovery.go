package driver

import (
	"context"

	"ocbridge/internal/bridgeerr"
)

// ensureRunning probes process existence and attempts a single activation
// before failing.
func (d *UIDriver) ensureRunning(ctx context.Context) error {
	running, err := d.auto.AppRunning(ctx)
	if err != nil {
		return bridgeerr.New(bridgeerr.CodeUnknown, "app probe failed").WithCause(err)
	}
	if running {
		return nil
	}
	if err := d.auto.ActivateApp(ctx); err != nil {
		return bridgeerr.New(bridgeerr.CodeAppNotRunning, "chat app could not be activated").WithCause(err)
	}
	running, err = d.auto.AppRunning(ctx)
	if err != nil {
		return bridgeerr.New(bridgeerr.CodeUnknown, "app probe failed").WithCause(err)
	}
	if !running {
		return bridgeerr.New(bridgeerr.CodeAppNotRunning, "chat app did not start after activation")
	}
	return nil
}

// ensureWindowAvailable recovers a usable front window: reopen the app,
// then try the new-window shortcut, then give up.
func (d *UIDriver) ensureWindowAvailable(ctx context.Context) error {
	present, err := d.auto.FrontWindowPresent(ctx)
	if err == nil && present {
		return nil
	}

	if err := d.auto.ReopenApp(ctx); err == nil {
		if present, err := d.auto.FrontWindowPresent(ctx); err == nil && present {
			return nil
		}
	}

	if err := d.auto.NewWindowShortcut(ctx); err == nil {
		if present, err := d.auto.FrontWindowPresent(ctx); err == nil && present {
			return nil
		}
	}

	return bridgeerr.New(bridgeerr.CodeUIElementNotFound, "no usable front window after recovery")
}
