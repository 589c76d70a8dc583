//go:build darwin

package automation

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"ocbridge/internal/driver"
)

// OSAScript drives the chat app through osascript and the pasteboard tools.
type OSAScript struct {
	cfg Config
}

// New creates the macOS automation backend.
func New(cfg Config) *OSAScript {
	if cfg.AppName == "" {
		cfg = DefaultConfig()
	}
	return &OSAScript{cfg: cfg}
}

var _ driver.Automation = (*OSAScript)(nil)

func (o *OSAScript) run(ctx context.Context, script string) (string, error) {
	out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		// A killed osascript surfaces as "signal: killed"; report the
		// deadline instead so the poll loop classifies it as recoverable.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return text, fmt.Errorf("osascript timed out: %w", ctxErr)
		}
		return text, fmt.Errorf("osascript: %w: %s", err, text)
	}
	return text, nil
}

func (o *OSAScript) process(body string) string {
	return fmt.Sprintf(`tell application "System Events" to tell process "%s"
%s
end tell`, o.cfg.AppName, body)
}

func (o *OSAScript) AppRunning(ctx context.Context) (bool, error) {
	out, err := o.run(ctx, fmt.Sprintf(
		`tell application "System Events" to (name of processes) contains "%s"`, o.cfg.AppName))
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

func (o *OSAScript) ActivateApp(ctx context.Context) error {
	_, err := o.run(ctx, fmt.Sprintf(`tell application "%s" to activate`, o.cfg.AppName))
	return err
}

func (o *OSAScript) AccessibilityStatus(ctx context.Context) (string, error) {
	_, err := o.run(ctx, `tell application "System Events" to get name of first process`)
	if err == nil {
		return "granted", nil
	}
	msg := err.Error()
	if strings.Contains(msg, "assistive access") || strings.Contains(msg, "-25211") || strings.Contains(msg, "1002") {
		return "denied", nil
	}
	return "unknown", err
}

func (o *OSAScript) FrontWindowPresent(ctx context.Context) (bool, error) {
	out, err := o.run(ctx, o.process(`return exists window 1`))
	if err != nil {
		return false, err
	}
	return out == "true", nil
}

func (o *OSAScript) ReopenApp(ctx context.Context) error {
	_, err := o.run(ctx, fmt.Sprintf(`tell application "%s"
reopen
activate
end tell`, o.cfg.AppName))
	return err
}

func (o *OSAScript) NewWindowShortcut(ctx context.Context) error {
	_, err := o.run(ctx, o.process(`keystroke "n" using command down`))
	return err
}

func (o *OSAScript) NewChat(ctx context.Context) error {
	if err := o.ActivateApp(ctx); err != nil {
		return err
	}
	_, err := o.run(ctx, o.process(`keystroke "n" using {command down, shift down}`))
	return err
}

func (o *OSAScript) ListConversations(ctx context.Context) ([]string, error) {
	out, err := o.run(ctx, o.process(
		`set AppleScript's text item delimiters to linefeed
return (name of every UI element of group 1 of group 1 of window 1 whose name is not missing value) as text`))
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (o *OSAScript) OpenConversation(ctx context.Context, title string) (bool, error) {
	out, err := o.run(ctx, o.process(fmt.Sprintf(
		`if exists (first UI element of group 1 of group 1 of window 1 whose name is %q) then
click (first UI element of group 1 of group 1 of window 1 whose name is %q)
return "opened"
else
return "missing"
end if`, title, title)))
	if err != nil {
		return false, err
	}
	return out == "opened", nil
}

func (o *OSAScript) FocusInput(ctx context.Context) error {
	_, err := o.run(ctx, o.process(`set focused of text area 1 of window 1 to true`))
	return err
}

func (o *OSAScript) ClickInputArea(ctx context.Context) error {
	_, err := o.run(ctx, o.process(
		`set {x, y} to position of window 1
set {w, h} to size of window 1
click at {x + (w div 2), y + h - 60}`))
	return err
}

func (o *OSAScript) KeyboardFocusCycle(ctx context.Context) error {
	_, err := o.run(ctx, o.process(`repeat 3 times
keystroke tab
end repeat`))
	return err
}

func (o *OSAScript) ReadClipboard(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "pbpaste").Output()
	if err != nil {
		return "", fmt.Errorf("pbpaste: %w", err)
	}
	return string(out), nil
}

func (o *OSAScript) WriteClipboard(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, "pbcopy")
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pbcopy: %w", err)
	}
	return nil
}

func (o *OSAScript) Paste(ctx context.Context) error {
	_, err := o.run(ctx, o.process(`keystroke "v" using command down`))
	return err
}

func (o *OSAScript) Submit(ctx context.Context) error {
	_, err := o.run(ctx, o.process(`key code 36`))
	return err
}

func (o *OSAScript) Scrape(ctx context.Context) (string, error) {
	out, err := o.run(ctx, o.process(
		`set AppleScript's text item delimiters to linefeed
return (value of every static text of window 1) as text`))
	if err != nil {
		return "", err
	}
	return out, nil
}
