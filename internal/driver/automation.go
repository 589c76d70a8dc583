package driver

import "context"

// Automation is the narrow contract for the OS-level primitives the driver
// composes. Implementations live outside the core; tests use scripted
// fakes.
type Automation interface {
	// AppRunning reports whether the chat app process exists.
	AppRunning(ctx context.Context) (bool, error)
	// ActivateApp launches or foregrounds the chat app.
	ActivateApp(ctx context.Context) error
	// AccessibilityStatus reports granted, denied, or unknown.
	AccessibilityStatus(ctx context.Context) (string, error)

	// FrontWindowPresent reports whether a front window exists.
	FrontWindowPresent(ctx context.Context) (bool, error)
	// ReopenApp re-opens the app (Dock click equivalent).
	ReopenApp(ctx context.Context) error
	// NewWindowShortcut sends the keyboard shortcut for a new window.
	NewWindowShortcut(ctx context.Context) error

	// NewChat resets the UI to a fresh conversation.
	NewChat(ctx context.Context) error
	// ListConversations returns sidebar conversation titles in display order.
	ListConversations(ctx context.Context) ([]string, error)
	// OpenConversation opens the named sidebar conversation. It returns
	// false without error when the title is not present.
	OpenConversation(ctx context.Context, title string) (bool, error)

	// FocusInput focuses the composer via the accessibility input element.
	FocusInput(ctx context.Context) error
	// ClickInputArea clicks near the window bottom where the composer sits.
	ClickInputArea(ctx context.Context) error
	// KeyboardFocusCycle tabs focus through the window to reach the composer.
	KeyboardFocusCycle(ctx context.Context) error

	// ReadClipboard and WriteClipboard move text through the pasteboard.
	ReadClipboard(ctx context.Context) (string, error)
	WriteClipboard(ctx context.Context, text string) error
	// Paste issues the paste keystroke into the focused element.
	Paste(ctx context.Context) error
	// Submit sends the composed message.
	Submit(ctx context.Context) error

	// Scrape dumps the accessibility tree's static text as one blob.
	Scrape(ctx context.Context) (string, error)
}
