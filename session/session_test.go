package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/audio"
	"nudge/inference"
	"nudge/metrics"
	"nudge/reminder"
)

// timers collects scheduled resets so tests decide when they fire.
type timers struct {
	mu      sync.Mutex
	pending []func()
	delays  []time.Duration
}

func (tm *timers) afterFunc(d time.Duration, f func()) {
	tm.mu.Lock()
	tm.pending = append(tm.pending, f)
	tm.delays = append(tm.delays, d)
	tm.mu.Unlock()
}

func (tm *timers) fire(i int) {
	tm.mu.Lock()
	f := tm.pending[i]
	tm.mu.Unlock()
	f()
}

func (tm *timers) count() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.pending)
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func callMom() reminder.Data {
	return reminder.Data{ReminderContent: "Call mom", ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.93}
}

func newTestOrchestrator(t *testing.T, client inference.Client) (*Orchestrator, *timers) {
	t.Helper()
	tm := &timers{}
	c := &clock{t: start}
	o := New(client, Options{Now: c.now, AfterFunc: tm.afterFunc})
	return o, tm
}

func TestSubmitTextSuccess(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	o, tm := newTestOrchestrator(t, fake)

	var statuses []Status
	o.Subscribe(func(s State) { statuses = append(statuses, s.Status) })

	o.SetDraft("call mom tomorrow at 5pm")
	item, err := o.SubmitDraft(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "call mom tomorrow at 5pm", item.OriginalInput)
	assert.Equal(t, callMom(), item.Data)
	assert.NotEmpty(t, item.ID)
	assert.False(t, item.CreatedAt.Before(start))

	s := o.State()
	assert.Equal(t, Success, s.Status)
	assert.Empty(t, s.Draft, "draft cleared after submit")
	require.Len(t, s.History, 1)
	assert.Equal(t, item, s.History[0])

	assert.Equal(t, []Status{Idle, Processing, Success}, statuses)
	require.Equal(t, 1, tm.count())
	assert.Equal(t, DefaultResetDelay, tm.delays[0])

	tm.fire(0)
	assert.Equal(t, Idle, o.State().Status)
}

func TestSubmitBlankIsNoop(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	o, tm := newTestOrchestrator(t, fake)

	notified := 0
	o.Subscribe(func(State) { notified++ })

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := o.SubmitText(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	_, err := o.SubmitDraft(context.Background())
	assert.ErrorIs(t, err, ErrEmptyInput)

	assert.Equal(t, State{Status: Idle}, o.State())
	assert.Zero(t, notified)
	assert.Empty(t, fake.Calls())
	assert.Zero(t, tm.count())
}

func TestHistoryNewestFirst(t *testing.T) {
	o, _ := newTestOrchestrator(t, inference.NewFake(inference.FakeReply{Data: callMom()}))

	inputs := []string{"first", "second", "third"}
	var items []reminder.HistoryItem
	for _, in := range inputs {
		item, err := o.SubmitText(context.Background(), in)
		require.NoError(t, err)
		items = append(items, item)
	}

	h := o.State().History
	require.Len(t, h, 3)
	assert.Equal(t, "third", h[0].OriginalInput)
	assert.Equal(t, "second", h[1].OriginalInput)
	assert.Equal(t, "first", h[2].OriginalInput)

	ids := map[string]bool{}
	for _, it := range h {
		assert.False(t, ids[it.ID], "duplicate id")
		ids[it.ID] = true
	}
	assert.True(t, h[0].CreatedAt.After(h[2].CreatedAt))
}

func TestSubmitAudioUsesPlaceholder(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	o, _ := newTestOrchestrator(t, fake)
	o.SetDraft("unrelated draft")

	item, err := o.SubmitAudio(context.Background(), "ZkxhQw==", "audio/flac")
	require.NoError(t, err)
	assert.Equal(t, inference.AudioPlaceholder, item.OriginalInput)
	assert.Equal(t, "unrelated draft", o.State().Draft)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].IsAudio())
	assert.Equal(t, "audio/flac", calls[0].Audio.MIMEType)

	_, err = o.SubmitAudio(context.Background(), "", "audio/flac")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestSubmitFailure(t *testing.T) {
	apiErr := &inference.Error{Provider: "gemini", StatusCode: 500, Message: "backend unavailable"}
	o, tm := newTestOrchestrator(t, inference.NewFake(inference.FakeReply{Err: apiErr}))
	o.SetDraft("call mom")

	_, err := o.SubmitDraft(context.Background())
	require.Error(t, err)
	assert.True(t, inference.IsInferenceError(err))

	s := o.State()
	assert.Equal(t, Error, s.Status)
	assert.Contains(t, s.Error, "backend unavailable")
	assert.Empty(t, s.History)
	assert.Equal(t, "call mom", s.Draft, "draft kept for retry")

	tm.fire(0)
	s = o.State()
	assert.Equal(t, Idle, s.Status)
	assert.Empty(t, s.Error)
}

func TestMissingCredentialSurfaces(t *testing.T) {
	c, err := inference.New(inference.Config{Provider: "gemini", Timezone: "UTC", Key: func() string { return "" }})
	require.NoError(t, err)
	o, _ := newTestOrchestrator(t, c)

	_, err = o.SubmitText(context.Background(), "call mom")
	assert.ErrorIs(t, err, inference.ErrMissingCredential)
	assert.Equal(t, Error, o.State().Status)
	assert.Contains(t, o.State().Error, "missing API key")
}

func TestStaleResetIgnored(t *testing.T) {
	o, tm := newTestOrchestrator(t, inference.NewFake(inference.FakeReply{Data: callMom()}))

	_, err := o.SubmitText(context.Background(), "one")
	require.NoError(t, err)
	_, err = o.SubmitText(context.Background(), "two")
	require.NoError(t, err)
	require.Equal(t, 2, tm.count())

	// the first reset belongs to an older submission
	tm.fire(0)
	assert.Equal(t, Success, o.State().Status)

	tm.fire(1)
	assert.Equal(t, Idle, o.State().Status)
}

func TestStaleResetDuringProcessing(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	o, tm := newTestOrchestrator(t, fake)

	_, err := o.SubmitText(context.Background(), "one")
	require.NoError(t, err)

	fake.Gate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitText(context.Background(), "two")
		done <- err
	}()
	require.Eventually(t, func() bool { return o.State().Status == Processing }, time.Second, time.Millisecond)

	tm.fire(0)
	assert.Equal(t, Processing, o.State().Status, "old reset must not interrupt a newer request")

	_, err = o.SubmitText(context.Background(), "three")
	assert.ErrorIs(t, err, ErrBusy)

	fake.Gate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, Success, o.State().Status)
	assert.Len(t, o.State().History, 2)
}

func TestRecordingTransitions(t *testing.T) {
	o, tm := newTestOrchestrator(t, inference.NewFake(inference.FakeReply{Data: callMom()}))

	o.SetRecording(true)
	assert.Equal(t, Recording, o.State().Status)
	o.SetRecording(false)
	assert.Equal(t, Idle, o.State().Status)

	_, err := o.SubmitText(context.Background(), "x")
	require.NoError(t, err)
	o.SetRecording(true)
	assert.Equal(t, Recording, o.State().Status)

	// reset from the finished submission must not end the recording
	tm.fire(0)
	assert.Equal(t, Recording, o.State().Status)
}

func TestTextRefusedWhileRecording(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()}, inference.FakeReply{Data: callMom()})
	o, _ := newTestOrchestrator(t, fake)

	o.SetRecording(true)
	_, err := o.SubmitText(context.Background(), "call mom")
	assert.ErrorIs(t, err, ErrRecording)
	assert.Equal(t, Recording, o.State().Status)
	assert.Empty(t, fake.Calls())

	o.SetRecording(false)
	_, err = o.SubmitAudio(context.Background(), "UklGRg==", "audio/wav")
	require.NoError(t, err)
	assert.Len(t, o.State().History, 1)
}

func TestReportError(t *testing.T) {
	o, tm := newTestOrchestrator(t, inference.NewFake())
	o.SetRecording(true)

	err := audio.Classify(errors.New("pulse: access denied"))
	o.ReportError(err)

	s := o.State()
	assert.Equal(t, Error, s.Status)
	assert.Contains(t, s.Error, "permission denied")

	tm.fire(0)
	assert.Equal(t, Idle, o.State().Status)

	o.ReportError(nil)
	assert.Equal(t, Idle, o.State().Status)
}

func TestStateIsACopy(t *testing.T) {
	o, _ := newTestOrchestrator(t, inference.NewFake(inference.FakeReply{Data: callMom()}))
	_, err := o.SubmitText(context.Background(), "x")
	require.NoError(t, err)

	s := o.State()
	s.History[0].ReminderContent = "tampered"
	assert.Equal(t, "Call mom", o.State().History[0].ReminderContent)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	o := New(inference.NewFake(inference.FakeReply{Data: callMom()}), Options{
		Metrics:   m,
		AfterFunc: func(time.Duration, func()) {},
	})

	_, err := o.SubmitText(context.Background(), "x")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["nudge_inference_requests_total"])
	assert.True(t, names["nudge_history_items"])
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "PROCESSING", Processing.String())
	assert.Equal(t, "UNKNOWN", Status(42).String())
}
