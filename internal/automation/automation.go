// Package automation provides the production Automation backend: a thin
// osascript shim on macOS and an always-failing stub elsewhere. Everything
// interesting (retries, recovery, classification) lives in the driver; this
// package only issues the OS primitives.
package automation

// Config identifies the target app and the localized UI labels the scripts
// reference.
type Config struct {
	AppName      string
	LabelNewChat string
}

// DefaultConfig targets the stock ChatGPT desktop app.
func DefaultConfig() Config {
	return Config{
		AppName:      "ChatGPT",
		LabelNewChat: "New chat",
	}
}
