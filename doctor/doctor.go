// Package doctor runs the -doctor diagnostics: configuration, credential,
// provider reachability, a sample extraction, the microphone, the hotkey
// and the clipboard.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"nudge/audio"
	"nudge/clipboard"
	"nudge/config"
	"nudge/hotkey"
	"nudge/inference"
	"nudge/recorder"
)

// ErrSkipped marks a check that does not apply to the current setup.
var ErrSkipped = errors.New("skipped")

const (
	DefaultSample    = "call mom in 10 minutes"
	DefaultRecordFor = 2 * time.Second
	checkTimeout     = 15 * time.Second
)

type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

type Options struct {
	Config   config.Config
	Timezone string

	Client       inference.Client
	ProbeURL     string // provider base URL; empty skips the reachability probe
	Transport    http.RoundTripper
	AudioContext func() (audio.Context, error)
	Device       *audio.DeviceInfo
	RecordFor    time.Duration
	Sample       string

	Hotkey    bool
	Clipboard bool
	KeyEnv    func(string) string
}

// Checks builds the diagnostic list for opts.
func Checks(opts Options) []Check {
	if opts.KeyEnv == nil {
		opts.KeyEnv = os.Getenv
	}
	if opts.RecordFor <= 0 {
		opts.RecordFor = DefaultRecordFor
	}
	if opts.Sample == "" {
		opts.Sample = DefaultSample
	}
	checks := []Check{
		{"Configuration", func(context.Context) (string, error) { return checkConfig(opts) }},
		{"API key", func(context.Context) (string, error) { return checkCredential(opts) }},
		{"Provider reachability", func(ctx context.Context) (string, error) { return checkReachability(ctx, opts) }},
		{"Sample extraction", func(ctx context.Context) (string, error) { return checkExtraction(ctx, opts) }},
		{"Microphone", func(ctx context.Context) (string, error) { return checkMicrophone(ctx, opts) }},
	}
	if opts.Hotkey {
		checks = append(checks, Check{"Hotkey (" + hotkey.Label + ")", func(context.Context) (string, error) {
			return hotkey.Diagnose()
		}})
	}
	if opts.Clipboard {
		checks = append(checks, Check{"Clipboard", checkClipboard})
	}
	return checks
}

// Run executes checks in order, printing one PASS/FAIL/SKIP line each, and
// returns the process exit code (0 when nothing failed).
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	restore := saveTerminal()
	defer restore()

	fmt.Fprintln(w, "nudge doctor - system diagnostics")
	fmt.Fprintln(w, "=================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(w, "\n[%d/%d] %s\n", i+1, len(checks), c.Name)
		if ctx.Err() != nil {
			fmt.Fprintln(w, "  FAIL: interrupted")
			failed++
			break
		}
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		msg, err := c.Run(cctx)
		cancel()
		switch {
		case errors.Is(err, ErrSkipped):
			fmt.Fprintf(w, "  SKIP: %s\n", msg)
		case err != nil:
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			failed++
		default:
			fmt.Fprintf(w, "  PASS: %s\n", msg)
		}
	}

	fmt.Fprintln(w)
	if failed > 0 {
		fmt.Fprintf(w, "%d check(s) failed. See details above.\n", failed)
		return 1
	}
	fmt.Fprintln(w, "All checks passed!")
	return 0
}

func checkConfig(opts Options) (string, error) {
	if err := opts.Config.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("provider=%s format=%s timezone=%s", opts.Config.Provider, opts.Config.Format, opts.Timezone), nil
}

var keyEnvs = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
}

func checkCredential(opts Options) (string, error) {
	name, ok := keyEnvs[opts.Config.Provider]
	if !ok {
		return "provider needs no key", ErrSkipped
	}
	key := strings.TrimSpace(opts.KeyEnv(name))
	if key == "" {
		return "", fmt.Errorf("%w: set %s", inference.ErrMissingCredential, name)
	}
	return fmt.Sprintf("%s is set (%d chars)", name, len(key)), nil
}

func checkReachability(ctx context.Context, opts Options) (string, error) {
	if opts.ProbeURL == "" {
		return "no remote endpoint", ErrSkipped
	}
	tc := inference.NewTracedClient(opts.Transport)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, opts.ProbeURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := tc.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot reach %s: %w", opts.ProbeURL, err)
	}
	m := resp.Metrics
	return fmt.Sprintf("%s answered %d (dns %dms, connect %dms, tls %dms, total %dms)",
		opts.ProbeURL, resp.StatusCode,
		m.DNS.Milliseconds(), m.ConnWait.Milliseconds(), m.TLS.Milliseconds(), m.Total.Milliseconds()), nil
}

func checkExtraction(ctx context.Context, opts Options) (string, error) {
	if opts.Client == nil {
		return "no inference client", ErrSkipped
	}
	res, err := opts.Client.ParseInput(ctx, inference.TextInput(opts.Sample))
	if err != nil {
		return "", err
	}
	d := res.Data
	when := d.ScheduledTime
	if when == "" {
		when = "no time"
	}
	return fmt.Sprintf("%q -> %q at %s (confidence %.0f%%)", opts.Sample, d.ReminderContent, when, d.ConfidenceScore*100), nil
}

func checkMicrophone(ctx context.Context, opts Options) (string, error) {
	if opts.AudioContext == nil {
		return "no audio backend", ErrSkipped
	}
	actx, err := opts.AudioContext()
	if err != nil {
		return "", audio.Classify(err)
	}
	defer actx.Close()

	rec := recorder.New(recorder.Config{
		Context: actx,
		Device:  opts.Device,
		Format:  "wav",
	})
	done := make(chan int, 1)
	rec.OnComplete = func(b64, _ string) { done <- len(b64) }
	var peak atomic.Uint32
	rec.OnFrame = func(bins []uint8) {
		for _, b := range bins {
			if uint32(b) > peak.Load() {
				peak.Store(uint32(b))
			}
		}
	}

	if err := rec.Start(); err != nil {
		return "", err
	}
	select {
	case <-time.After(opts.RecordFor):
	case <-ctx.Done():
		rec.Close()
		return "", ctx.Err()
	}
	if err := rec.Stop(); err != nil {
		return "", err
	}
	n := <-done
	p := peak.Load()
	msg := fmt.Sprintf("recorded %s, %.1f KB encoded, peak bin %d/255", opts.RecordFor, float64(n)*3/4/1024, p)
	if p == 0 {
		msg += " (silent: check the input level)"
	}
	return msg, nil
}

func checkClipboard(ctx context.Context) (string, error) {
	probe := fmt.Sprintf("nudge-doctor-%d", time.Now().UnixNano())
	type result struct {
		got   string
		err   error
		phase string
	}
	ch := make(chan result, 1)
	go func() {
		if err := clipboard.Copy(probe); err != nil {
			ch <- result{err: err, phase: "write"}
			return
		}
		got, err := clipboard.Read()
		ch <- result{got: got, err: err, phase: "read"}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("clipboard %s failed: %w", r.phase, r.err)
		}
		if r.got != probe {
			return "", fmt.Errorf("clipboard mismatch: wrote %q, got %q", probe, r.got)
		}
		return "clipboard write/read verified", nil
	case <-ctx.Done():
		return "", errors.New("clipboard timed out (compositor not accessible?)")
	}
}
