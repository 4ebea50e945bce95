package main

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/audio"
	"nudge/beep"
	"nudge/clipboard"
	"nudge/encoder"
	"nudge/inference"
	"nudge/recorder"
	"nudge/reminder"
	"nudge/session"
)

func TestMain(m *testing.M) {
	beep.Disable()
	os.Exit(m.Run())
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []session.Status
	alerts   []string
	copied   []string
	notices  []recorder.Notice
}

func (s *recordingSink) State(st session.State) {
	s.mu.Lock()
	s.statuses = append(s.statuses, st.Status)
	s.mu.Unlock()
}

func (s *recordingSink) Frame([]uint8)      {}
func (s *recordingSink) Tick(time.Duration) {}

func (s *recordingSink) Notice(n recorder.Notice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
}

func (s *recordingSink) Alert(text string) {
	s.mu.Lock()
	s.alerts = append(s.alerts, text)
	s.mu.Unlock()
}

func (s *recordingSink) Copied(text string) {
	s.mu.Lock()
	s.copied = append(s.copied, text)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() (statuses []session.Status, alerts, copied []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Status(nil), s.statuses...),
		append([]string(nil), s.alerts...),
		append([]string(nil), s.copied...)
}

func tonePCM(d time.Duration) []byte {
	n := int(d.Seconds() * encoder.SampleRate)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func callMom() reminder.Data {
	return reminder.Data{ReminderContent: "Call mom", ScheduledTime: "2024-01-02T17:00:00Z", ConfidenceScore: 0.93}
}

func newTestApp(t *testing.T, client inference.Client) (*app, *session.Orchestrator, *recordingSink) {
	t.Helper()
	orch := session.New(client, session.Options{AfterFunc: func(time.Duration, func()) {}})
	sink := &recordingSink{}
	a := newApp(context.Background(), orch, sink, time.UTC)
	t.Cleanup(a.close)
	return a, orch, sink
}

func TestAppSubmitText(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	a, orch, sink := newTestApp(t, fake)

	a.setDraft("call mom tomorrow at 5pm")
	a.submitDraft()
	a.wait()

	s := orch.State()
	assert.Equal(t, session.Success, s.Status)
	assert.Empty(t, s.Draft)
	require.Len(t, s.History, 1)
	assert.Equal(t, "call mom tomorrow at 5pm", s.History[0].OriginalInput)

	statuses, _, _ := sink.snapshot()
	assert.Contains(t, statuses, session.Processing)
	assert.Equal(t, session.Success, statuses[len(statuses)-1])
}

func TestAppBlankTextIgnored(t *testing.T) {
	fake := inference.NewFake()
	a, orch, sink := newTestApp(t, fake)

	a.submitText("   ")
	a.wait()

	assert.Equal(t, session.Idle, orch.State().Status)
	assert.Empty(t, fake.Calls())
	statuses, alerts, _ := sink.snapshot()
	assert.Empty(t, statuses)
	assert.Empty(t, alerts)
}

func TestAppRecordAndSubmit(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	a, orch, _ := newTestApp(t, fake)

	rec := recorder.New(recorder.Config{
		Context: audio.NewFakeContextPCM(tonePCM(500*time.Millisecond), false),
		Format:  "wav",
	})
	a.attach(rec)

	a.toggleRecording()
	require.True(t, rec.Active())
	assert.Equal(t, session.Recording, orch.State().Status)

	a.toggleRecording()
	a.wait()
	assert.False(t, rec.Active())

	s := orch.State()
	assert.Equal(t, session.Success, s.Status)
	require.Len(t, s.History, 1)
	assert.Equal(t, inference.AudioPlaceholder, s.History[0].OriginalInput)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	require.True(t, calls[0].IsAudio())
	assert.Equal(t, "audio/wav", calls[0].Audio.MIMEType)
	assert.NotEmpty(t, calls[0].Audio.Data)
}

func TestAppRecordTooShort(t *testing.T) {
	fake := inference.NewFake()
	a, orch, sink := newTestApp(t, fake)

	a.attach(recorder.New(recorder.Config{Context: audio.NewFakeContextPCM(nil, true), Format: "wav"}))
	a.startRecording()
	a.stopRecording()
	a.wait()

	assert.Equal(t, session.Idle, orch.State().Status)
	assert.Empty(t, fake.Calls())
	_, alerts, _ := sink.snapshot()
	assert.Contains(t, alerts, "recording too short")
}

func TestAppNoMicrophone(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	a, orch, _ := newTestApp(t, fake)

	a.startRecording()
	s := orch.State()
	assert.Equal(t, session.Error, s.Status)
	assert.Contains(t, s.Error, audio.ErrDeviceUnavailable.Error())

	// typing still works
	a.submitText("call mom")
	a.wait()
	assert.Equal(t, session.Success, orch.State().Status)
	assert.Len(t, orch.State().History, 1)
}

func TestAppPermissionDenied(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	a, orch, _ := newTestApp(t, fake)

	ctx := audio.NewFakeContextPCM(tonePCM(time.Second), false)
	ctx.FailStart = errors.New("access denied by system")
	rec := recorder.New(recorder.Config{Context: ctx, Format: "wav"})
	a.attach(rec)

	a.startRecording()
	assert.False(t, rec.Active())
	s := orch.State()
	assert.Equal(t, session.Error, s.Status)
	assert.Contains(t, s.Error, "permission denied")

	a.submitText("call mom")
	a.wait()
	assert.Equal(t, session.Success, orch.State().Status)
}

func TestAppRecordRefusedWhileProcessing(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	fake.Gate = make(chan struct{})
	a, orch, sink := newTestApp(t, fake)

	rec := recorder.New(recorder.Config{Context: audio.NewFakeContextPCM(tonePCM(time.Second), false), Format: "wav"})
	a.attach(rec)

	a.submitText("call mom")
	require.Eventually(t, func() bool { return orch.State().Status == session.Processing }, time.Second, time.Millisecond)

	a.startRecording()
	assert.False(t, rec.Active())
	_, alerts, _ := sink.snapshot()
	assert.Len(t, alerts, 1)

	fake.Gate <- struct{}{}
	a.wait()
	assert.Equal(t, session.Success, orch.State().Status)
}

func TestAppTextDuringRecordingKeepsRecording(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()}, inference.FakeReply{Data: callMom()})
	a, orch, sink := newTestApp(t, fake)

	rec := recorder.New(recorder.Config{Context: audio.NewFakeContextPCM(tonePCM(time.Second), false), Format: "wav"})
	a.attach(rec)

	a.toggleRecording()
	require.True(t, rec.Active())

	a.submitText("call mom")
	a.wait()
	assert.Equal(t, session.Recording, orch.State().Status)
	assert.True(t, rec.Active())
	_, alerts, _ := sink.snapshot()
	assert.Equal(t, []string{"stop the recording first"}, alerts)

	a.toggleRecording()
	a.wait()

	s := orch.State()
	assert.Equal(t, session.Success, s.Status)
	require.Len(t, s.History, 1)
	assert.Equal(t, inference.AudioPlaceholder, s.History[0].OriginalInput)
	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].IsAudio())
}

func TestAppCopyLatest(t *testing.T) {
	fake := inference.NewFake(inference.FakeReply{Data: callMom()})
	a, _, sink := newTestApp(t, fake)

	var clip string
	a.copyItem = func(item reminder.HistoryItem, loc *time.Location) (string, error) {
		clip = clipboard.Text(item, loc)
		return clip, nil
	}

	a.copyLatest()
	_, alerts, copied := sink.snapshot()
	assert.Equal(t, []string{"nothing to copy yet"}, alerts)
	assert.Empty(t, copied)

	a.submitText("call mom")
	a.wait()
	a.copyLatest()

	_, _, copied = sink.snapshot()
	require.Len(t, copied, 1)
	assert.Equal(t, "Call mom (Tue Jan 2, 17:00 UTC)", copied[0])
	assert.Equal(t, copied[0], clip)
}
