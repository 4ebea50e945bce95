// Package clipboard copies reminders to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"

	"nudge/reminder"
)

var ErrUnsupported = errors.New("no clipboard utility found (install xclip, xsel or wl-clipboard)")

// overridden in tests
var (
	writeAll = cb.WriteAll
	readAll  = cb.ReadAll
)

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return writeAll(text)
}

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return readAll()
}

// Text renders item as a single line: the content, followed by the
// scheduled time in loc when the result is valid.
func Text(item reminder.HistoryItem, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	if !item.Valid() {
		return item.ReminderContent
	}
	t, ok := item.Scheduled()
	if !ok {
		return fmt.Sprintf("%s (%s)", item.ReminderContent, item.ScheduledTime)
	}
	return fmt.Sprintf("%s (%s)", item.ReminderContent, t.In(loc).Format("Mon Jan 2, 15:04 MST"))
}

// CopyItem copies the rendered item and returns the copied text.
func CopyItem(item reminder.HistoryItem, loc *time.Location) (string, error) {
	text := Text(item, loc)
	if err := Copy(text); err != nil {
		return "", fmt.Errorf("copy to clipboard: %w", err)
	}
	return text, nil
}
