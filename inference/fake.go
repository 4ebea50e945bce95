package inference

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"nudge/reminder"
)

// FakeReply is one scripted answer.
type FakeReply struct {
	Data reminder.Data
	Err  error
}

// Fake replays scripted replies in order; the last one repeats. When Gate
// is non-nil every call blocks until a value is received from it.
type Fake struct {
	Gate chan struct{}

	mu      sync.Mutex
	replies []FakeReply
	calls   []Input
}

func NewFake(replies ...FakeReply) *Fake {
	return &Fake{replies: replies}
}

func (f *Fake) Name() string  { return "fake" }
func (f *Fake) Model() string { return "scripted" }

func (f *Fake) ParseInput(ctx context.Context, in Input) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	var reply FakeReply
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return Result{}, newError(f.Name(), 0, "cancelled", ctx.Err())
		}
	}
	if reply.Err != nil {
		return Result{}, fmt.Errorf("fake inference: %w", reply.Err)
	}
	return Result{Data: reply.Data, RawText: in.RawText()}, nil
}

func (f *Fake) Calls() []Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Input(nil), f.calls...)
}

var relativeRe = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(minute|min|hour|hr|day)s?\b`)

// Echo is an offline provider for demos and the headless test mode. It
// understands "in N minutes|hours|days" and nothing else.
type Echo struct {
	timezone string
	now      func() time.Time
}

func NewEcho(timezone string, now func() time.Time) *Echo {
	if now == nil {
		now = time.Now
	}
	return &Echo{timezone: timezone, now: now}
}

func (e *Echo) Name() string  { return "fake" }
func (e *Echo) Model() string { return "echo" }

func (e *Echo) ParseInput(_ context.Context, in Input) (Result, error) {
	if _, _, err := prepare(e.Name(), in, func() string { return "offline" }, e.timezone); err != nil {
		return Result{}, err
	}
	if in.IsAudio() {
		return Result{
			Data:    reminder.Data{ReminderContent: "Voice reminder", ConfidenceScore: 0.2},
			RawText: in.RawText(),
		}, nil
	}

	text := strings.TrimSpace(in.Text)
	d := reminder.Data{ReminderContent: text, ConfidenceScore: 0.3}
	if m := relativeRe.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		unit := time.Minute
		switch strings.ToLower(text[m[4]:m[5]]) {
		case "hour", "hr":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		}
		at := e.now().Add(time.Duration(n) * unit).UTC().Truncate(time.Second)
		d.ScheduledTime = at.Format(time.RFC3339)
		d.ConfidenceScore = 0.9
		d.ReminderContent = strings.Join(strings.Fields(text[:m[0]]+" "+text[m[1]:]), " ")
		if d.ReminderContent == "" {
			d.ReminderContent = text
		}
	}
	return Result{Data: d, RawText: in.RawText()}, nil
}
