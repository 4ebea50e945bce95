// Package session owns the reminder feed and the capture status. All
// mutation goes through an Orchestrator; callers only ever see snapshots.
package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"nudge/inference"
	"nudge/log"
	"nudge/metrics"
	"nudge/reminder"
)

const DefaultResetDelay = 2 * time.Second

var (
	ErrEmptyInput = errors.New("nothing to submit")
	ErrBusy       = errors.New("a request is already in progress")
	ErrRecording  = errors.New("a recording is in progress")
)

type Status int

const (
	Idle Status = iota
	Recording
	Processing
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Recording:
		return "RECORDING"
	case Processing:
		return "PROCESSING"
	case Success:
		return "SUCCESS"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// State is a point-in-time copy of the orchestrator.
type State struct {
	Status     Status
	Draft      string
	Error      string
	History    []reminder.HistoryItem // newest first
	Generation uint64
}

// Latest returns the newest history item.
func (s State) Latest() (reminder.HistoryItem, bool) {
	if len(s.History) == 0 {
		return reminder.HistoryItem{}, false
	}
	return s.History[0], true
}

type Options struct {
	ResetDelay time.Duration
	Metrics    *metrics.Metrics
	Now        func() time.Time
	// AfterFunc schedules f after d; it defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
}

type Orchestrator struct {
	client     inference.Client
	resetDelay time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
	afterFunc  func(time.Duration, func())

	mu         sync.Mutex
	status     Status
	draft      string
	errMsg     string
	history    []reminder.HistoryItem
	generation uint64
	listeners  []func(State)
}

func New(client inference.Client, opts Options) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		resetDelay: opts.ResetDelay,
		metrics:    opts.Metrics,
		now:        opts.Now,
		afterFunc:  opts.AfterFunc,
	}
	if o.resetDelay <= 0 {
		o.resetDelay = DefaultResetDelay
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.afterFunc == nil {
		o.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return o
}

// Subscribe registers fn to receive a snapshot after every transition.
// Listeners run on the goroutine that caused the transition, outside the
// lock.
func (o *Orchestrator) Subscribe(fn func(State)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() State {
	return State{
		Status:     o.status,
		Draft:      o.draft,
		Error:      o.errMsg,
		History:    append([]reminder.HistoryItem(nil), o.history...),
		Generation: o.generation,
	}
}

// unlockAndNotify releases the lock and publishes the new state.
func (o *Orchestrator) unlockAndNotify() {
	s := o.snapshotLocked()
	listeners := slices.Clone(o.listeners)
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (o *Orchestrator) SetDraft(text string) {
	o.mu.Lock()
	if o.draft == text {
		o.mu.Unlock()
		return
	}
	o.draft = text
	o.unlockAndNotify()
}

// SetRecording flips between Idle and Recording. It is ignored while a
// request is in flight, and only the recording path may leave Recording.
func (o *Orchestrator) SetRecording(on bool) {
	o.mu.Lock()
	switch {
	case on && o.status != Processing && o.status != Recording:
		o.status = Recording
		o.errMsg = ""
		o.generation++
	case !on && o.status == Recording:
		o.status = Idle
	default:
		o.mu.Unlock()
		return
	}
	o.unlockAndNotify()
}

// SubmitText sends text to the inference client. Blank text is rejected
// with ErrEmptyInput and leaves the state untouched. While a recording is
// running text is refused with ErrRecording.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) (reminder.HistoryItem, error) {
	if strings.TrimSpace(text) == "" {
		return reminder.HistoryItem{}, ErrEmptyInput
	}
	return o.submit(ctx, inference.TextInput(text))
}

// SubmitDraft submits the current text input.
func (o *Orchestrator) SubmitDraft(ctx context.Context) (reminder.HistoryItem, error) {
	o.mu.Lock()
	draft := o.draft
	o.mu.Unlock()
	return o.SubmitText(ctx, draft)
}

// SubmitAudio sends a finished recording to the inference client.
func (o *Orchestrator) SubmitAudio(ctx context.Context, base64Data, mimeType string) (reminder.HistoryItem, error) {
	if base64Data == "" {
		return reminder.HistoryItem{}, ErrEmptyInput
	}
	return o.submit(ctx, inference.AudioInput(base64Data, mimeType))
}

func (o *Orchestrator) submit(ctx context.Context, in inference.Input) (reminder.HistoryItem, error) {
	o.mu.Lock()
	switch {
	case o.status == Processing:
		o.mu.Unlock()
		return reminder.HistoryItem{}, ErrBusy
	case o.status == Recording && !in.IsAudio():
		o.mu.Unlock()
		return reminder.HistoryItem{}, ErrRecording
	}
	o.status = Processing
	o.errMsg = ""
	o.generation++
	gen := o.generation
	o.unlockAndNotify()

	start := o.now()
	res, err := o.client.ParseInput(ctx, in)
	elapsed := o.now().Sub(start)
	o.metrics.ObserveInference(o.client.Name(), in.Kind(), inference.Outcome(err), elapsed)
	logCall(o.client, in, res, err)

	o.mu.Lock()
	if err != nil {
		o.status = Error
		o.errMsg = err.Error()
		o.scheduleResetLocked(gen)
		o.unlockAndNotify()
		return reminder.HistoryItem{}, err
	}

	created := o.now()
	if created.Before(start) {
		created = start
	}
	item := reminder.NewHistoryItem(res.Data, res.RawText, created)
	o.history = append([]reminder.HistoryItem{item}, o.history...)
	if !in.IsAudio() && o.draft == in.Text {
		o.draft = ""
	}
	o.status = Success
	o.scheduleResetLocked(gen)
	n := len(o.history)
	o.unlockAndNotify()

	o.metrics.SetHistory(n)
	log.Reminder(item.ReminderContent, item.ScheduledTime, item.ConfidenceScore, item.OriginalInput)
	return item, nil
}

// ReportError surfaces a failure outside the inference call, such as a
// denied microphone, and schedules the usual reset.
func (o *Orchestrator) ReportError(err error) {
	if err == nil {
		return
	}
	log.Errorf("session error: %v", err)
	o.mu.Lock()
	if o.status == Processing {
		// the in-flight request owns the status
		o.mu.Unlock()
		return
	}
	o.status = Error
	o.errMsg = err.Error()
	o.generation++
	o.scheduleResetLocked(o.generation)
	o.unlockAndNotify()
}

// scheduleResetLocked returns to Idle after the reset delay unless another
// transition has bumped the generation in the meantime.
func (o *Orchestrator) scheduleResetLocked(gen uint64) {
	o.afterFunc(o.resetDelay, func() {
		o.mu.Lock()
		if o.generation != gen || (o.status != Success && o.status != Error) {
			o.mu.Unlock()
			return
		}
		o.status = Idle
		o.errMsg = ""
		o.unlockAndNotify()
	})
}

func logCall(c inference.Client, in inference.Input, res inference.Result, err error) {
	m := log.InferenceMetrics{
		Provider: c.Name(),
		Model:    c.Model(),
		Input:    in.Kind(),
	}
	if in.IsAudio() {
		m.PayloadKB = float64(len(in.Audio.Data)) / 1024
	} else {
		m.PayloadKB = float64(len(in.Text)) / 1024
	}
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = float64(nm.DNS.Milliseconds())
		m.TLSTimeMs = float64(nm.TLS.Milliseconds())
		m.TTFBMs = float64(nm.TTFB.Milliseconds())
		m.TotalTimeMs = float64(nm.Total.Milliseconds())
		m.ConnReused = nm.ConnReused
		m.TLSProtocol = nm.TLSProtocol
		m.StatusCode = nm.StatusCode
	}
	log.InferenceCall(m, err)
}
