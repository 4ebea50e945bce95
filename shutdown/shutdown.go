// Package shutdown maps termination signals onto a context.
package shutdown

import (
	"context"
	"os/signal"
)

// Context is cancelled on the first termination signal. stop releases the
// signal registration.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
