//go:build !darwin

package automation

import (
	"context"
	"errors"

	"ocbridge/internal/driver"
)

var errUnsupported = errors.New("ui automation requires macOS")

// OSAScript is a stub on non-darwin platforms so the binary still builds;
// every call fails. The HTTP surface and tests run everywhere.
type OSAScript struct{}

// New returns the stub backend.
func New(Config) *OSAScript { return &OSAScript{} }

var _ driver.Automation = (*OSAScript)(nil)

func (*OSAScript) AppRunning(context.Context) (bool, error)            { return false, errUnsupported }
func (*OSAScript) ActivateApp(context.Context) error                   { return errUnsupported }
func (*OSAScript) AccessibilityStatus(context.Context) (string, error) { return "unknown", nil }
func (*OSAScript) FrontWindowPresent(context.Context) (bool, error)    { return false, errUnsupported }
func (*OSAScript) ReopenApp(context.Context) error                     { return errUnsupported }
func (*OSAScript) NewWindowShortcut(context.Context) error             { return errUnsupported }
func (*OSAScript) NewChat(context.Context) error                       { return errUnsupported }
func (*OSAScript) ListConversations(context.Context) ([]string, error) { return nil, errUnsupported }
func (*OSAScript) OpenConversation(context.Context, string) (bool, error) {
	return false, errUnsupported
}
func (*OSAScript) FocusInput(context.Context) error                 { return errUnsupported }
func (*OSAScript) ClickInputArea(context.Context) error             { return errUnsupported }
func (*OSAScript) KeyboardFocusCycle(context.Context) error         { return errUnsupported }
func (*OSAScript) ReadClipboard(context.Context) (string, error)    { return "", errUnsupported }
func (*OSAScript) WriteClipboard(context.Context, string) error     { return errUnsupported }
func (*OSAScript) Paste(context.Context) error                      { return errUnsupported }
func (*OSAScript) Submit(context.Context) error                     { return errUnsupported }
func (*OSAScript) Scrape(context.Context) (string, error)           { return "", errUnsupported }
