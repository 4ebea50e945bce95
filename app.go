package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"nudge/audio"
	"nudge/beep"
	"nudge/clipboard"
	"nudge/hotkey"
	"nudge/log"
	"nudge/recorder"
	"nudge/reminder"
	"nudge/session"
)

// app connects input sources (keys, hotkey, stdin) to the orchestrator and
// the recorder, and plays the matching cues.
type app struct {
	ctx  context.Context
	orch *session.Orchestrator
	sink EventSink
	loc  *time.Location

	// copyItem writes to the system clipboard; tests replace it.
	copyItem func(reminder.HistoryItem, *time.Location) (string, error)

	mu       sync.Mutex
	rec      *recorder.Recorder
	audioErr error

	pending sync.WaitGroup
}

func newApp(ctx context.Context, orch *session.Orchestrator, sink EventSink, loc *time.Location) *app {
	if loc == nil {
		loc = time.UTC
	}
	a := &app{ctx: ctx, orch: orch, sink: sink, loc: loc, copyItem: clipboard.CopyItem}
	orch.Subscribe(sink.State)
	return a
}

// attach makes rec the active recorder and routes its hooks.
func (a *app) attach(rec *recorder.Recorder) {
	rec.OnFrame = a.sink.Frame
	rec.OnTick = a.sink.Tick
	rec.OnNotice = a.notice
	rec.OnComplete = a.recorded
	rec.OnError = a.fail

	a.mu.Lock()
	old := a.rec
	a.rec = rec
	a.audioErr = nil
	a.mu.Unlock()
	if old != nil && old != rec {
		old.Close()
	}
}

// setAudioError records why no recorder is available. Text input keeps
// working; recording attempts surface err.
func (a *app) setAudioError(err error) {
	a.mu.Lock()
	a.audioErr = audio.Classify(err)
	a.mu.Unlock()
}

func (a *app) current() (*recorder.Recorder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rec, a.audioErr
}

func (a *app) setDraft(text string) { a.orch.SetDraft(text) }

func (a *app) submitDraft() { a.submit(a.orch.SubmitDraft) }

func (a *app) submitText(text string) {
	a.submit(func(ctx context.Context) (reminder.HistoryItem, error) {
		return a.orch.SubmitText(ctx, text)
	})
}

func (a *app) submit(fn func(context.Context) (reminder.HistoryItem, error)) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		_, err := fn(a.ctx)
		switch {
		case err == nil:
			beep.Play(beep.Success)
		case errors.Is(err, session.ErrEmptyInput):
		case errors.Is(err, session.ErrBusy):
			a.sink.Alert("still working on the previous reminder")
		case errors.Is(err, session.ErrRecording):
			a.sink.Alert("stop the recording first")
		default:
			beep.Play(beep.Error)
		}
	}()
}

// wait blocks until every submission started so far has finished.
func (a *app) wait() { a.pending.Wait() }

func (a *app) toggleRecording() {
	if rec, _ := a.current(); rec != nil && rec.Active() {
		a.stopRecording()
		return
	}
	a.startRecording()
}

func (a *app) startRecording() {
	rec, audioErr := a.current()
	if rec == nil {
		if audioErr == nil {
			audioErr = audio.ErrDeviceUnavailable
		}
		a.fail(audioErr)
		return
	}
	if rec.Active() {
		return
	}
	if a.orch.State().Status == session.Processing {
		a.sink.Alert("wait for the current reminder to finish")
		return
	}

	a.orch.SetRecording(true)
	if err := rec.Start(); err != nil {
		a.fail(err)
		return
	}
	beep.Play(beep.Start)
}

func (a *app) stopRecording() {
	rec, _ := a.current()
	if rec == nil {
		return
	}
	err := rec.Stop()
	a.orch.SetRecording(false)
	switch {
	case err == nil, errors.Is(err, recorder.ErrNotRecording):
	case errors.Is(err, recorder.ErrTooShort):
		beep.Play(beep.Stop)
		a.sink.Alert("recording too short")
	default:
		a.fail(err)
	}
}

// recorded runs on the recorder's completion, for both manual and
// automatic stops.
func (a *app) recorded(base64Data, mimeType string) {
	beep.Play(beep.Stop)
	a.orch.SetRecording(false)
	a.submit(func(ctx context.Context) (reminder.HistoryItem, error) {
		return a.orch.SubmitAudio(ctx, base64Data, mimeType)
	})
}

func (a *app) notice(n recorder.Notice) {
	a.sink.Notice(n)
	if n == recorder.NoticeSilence {
		beep.Play(beep.Error)
	}
}

func (a *app) fail(err error) {
	if err == nil {
		return
	}
	a.orch.ReportError(err)
	beep.Play(beep.Error)
}

func (a *app) copyLatest() {
	item, ok := a.orch.State().Latest()
	if !ok {
		a.sink.Alert("nothing to copy yet")
		return
	}
	text, err := a.copyItem(item, a.loc)
	if err != nil {
		log.Warnf("%v", err)
		a.sink.Alert(err.Error())
		return
	}
	a.sink.Copied(text)
}

// listenHotkey maps hybrid hotkey events onto recording until ctx ends.
func (a *app) listenHotkey(hy *hotkey.Hybrid) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-hy.Start():
			log.Info("hotkey_start")
			a.startRecording()
		case <-hy.Stop():
			log.Info("hotkey_stop")
			a.stopRecording()
		}
	}
}

func (a *app) close() {
	if rec, _ := a.current(); rec != nil {
		rec.Close()
	}
	a.wait()
}
