package main

import (
	"time"

	"nudge/recorder"
	"nudge/session"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless test mode receive the same session and recording events.
type EventSink interface {
	State(s session.State)
	Frame(bins []uint8)
	Tick(elapsed time.Duration)
	Notice(n recorder.Notice)
	Alert(text string)
	Copied(text string)
}
