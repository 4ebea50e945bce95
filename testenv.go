package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"nudge/audio"
	"nudge/config"
	"nudge/hotkey"
	"nudge/log"
	"nudge/metrics"
	"nudge/recorder"
	"nudge/session"
)

const waitTimeout = 30 * time.Second

// headlessSink prints every new history item as one JSON line on out and
// everything else on errOut. settled fires when a submission or recording
// reaches a final state.
type headlessSink struct {
	out    io.Writer
	errOut io.Writer

	mu      sync.Mutex
	printed int
	settled chan struct{}
}

func newHeadlessSink(out, errOut io.Writer) *headlessSink {
	return &headlessSink{out: out, errOut: errOut, settled: make(chan struct{}, 16)}
}

func (s *headlessSink) signal() {
	select {
	case s.settled <- struct{}{}:
	default:
	}
}

func (s *headlessSink) State(st session.State) {
	s.mu.Lock()
	// history is newest first; print in arrival order
	for i := len(st.History) - 1 - s.printed; i >= 0; i-- {
		line, err := json.Marshal(st.History[i])
		if err == nil {
			fmt.Fprintln(s.out, string(line))
		}
		s.printed++
	}
	s.mu.Unlock()

	switch st.Status {
	case session.Success:
		s.signal()
	case session.Error:
		fmt.Fprintf(s.errOut, "error: %s\n", st.Error)
		s.signal()
	}
}

func (s *headlessSink) Frame([]uint8)            {}
func (s *headlessSink) Tick(time.Duration)       {}
func (s *headlessSink) Notice(n recorder.Notice) { fmt.Fprintf(s.errOut, "notice: %s\n", n) }
func (s *headlessSink) Copied(text string)       { fmt.Fprintf(s.errOut, "copied: %s\n", text) }

func (s *headlessSink) Alert(text string) {
	fmt.Fprintf(s.errOut, "alert: %s\n", text)
	s.signal()
}

func (s *headlessSink) wait() bool {
	select {
	case <-s.settled:
		return true
	case <-time.After(waitTimeout):
		return false
	}
}

// runTestMode drives the app from stdin, one command per line:
//
//	TEXT <reminder>   submit typed text
//	KEYDOWN / KEYUP   simulate the global hotkey
//	WAIT              block until the last action settles
//	WAIT_AUDIO_DONE   block until the WAV has been fed completely
//	COPY              copy the latest reminder
//	SLEEP <ms>
//	QUIT
//
// With a WAV path the microphone replays that file; without one recording
// fails as if no device were present.
func runTestMode(ctx context.Context, orch *session.Orchestrator, cfg config.Config, loc *time.Location, wavPath string, longPress time.Duration, m *metrics.Metrics) int {
	sink := newHeadlessSink(os.Stdout, os.Stderr)
	a := newApp(ctx, orch, sink, loc)
	defer a.close()

	var fake *audio.FakeContext
	if wavPath != "" {
		var err error
		fake, err = audio.NewFakeContext(wavPath, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		a.attach(recorder.New(recorder.Config{
			Context:  fake,
			Format:   cfg.Format,
			AutoStop: cfg.AutoStop,
			Metrics:  m,
		}))
	} else {
		a.setAudioError(audio.ErrDeviceUnavailable)
	}

	hk := hotkey.NewFake()
	hy := hotkey.NewHybrid(hk, longPress)
	defer hy.Close()
	go a.listenHotkey(hy)

	seen := 0
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "TEXT":
			a.submitText(arg)
		case "KEYDOWN":
			hk.SimKeydown()
		case "KEYUP":
			hk.SimKeyup()
		case "WAIT":
			if !sink.wait() {
				fmt.Fprintln(os.Stderr, "timed out waiting")
				return 1
			}
		case "WAIT_AUDIO_DONE":
			if fake == nil {
				break
			}
			c, ok := nextCapture(fake, &seen)
			if !ok {
				fmt.Fprintln(os.Stderr, "timed out waiting for capture")
				return 1
			}
			select {
			case <-c.AudioDone():
			case <-time.After(waitTimeout):
				fmt.Fprintln(os.Stderr, "timed out waiting for audio")
				return 1
			}
		case "COPY":
			a.copyLatest()
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			a.wait()
			return 0
		default:
			log.Warnf("test mode: unknown command %q", line)
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", line)
		}
		if ctx.Err() != nil {
			return 1
		}
	}
	a.wait()
	return 0
}

// nextCapture waits for a capture newer than the last one returned, since
// recording starts asynchronously after KEYDOWN.
func nextCapture(fake *audio.FakeContext, seen *int) (*audio.FakeCapture, bool) {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if caps := fake.Captures(); len(caps) > *seen {
			*seen = len(caps)
			return caps[len(caps)-1], true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}
