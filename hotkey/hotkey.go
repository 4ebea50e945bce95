// Package hotkey registers the global Ctrl+Shift+R chord that toggles
// recording while the terminal is not focused.
package hotkey

// Label names the chord in the UI and in diagnostics.
const Label = "Ctrl+Shift+R"

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}
