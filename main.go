package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"nudge/audio"
	"nudge/beep"
	"nudge/config"
	"nudge/doctor"
	"nudge/hotkey"
	"nudge/inference"
	"nudge/log"
	"nudge/metrics"
	"nudge/recorder"
	"nudge/session"
	"nudge/shutdown"
)

var version = "dev"

// initCrashLog routes fatal runtime errors to crash_log.txt in the log
// directory. It must run after the directory is resolved.
func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func providerBaseURL(cfg config.Config) string {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIBaseURL != "" {
			return cfg.OpenAIBaseURL
		}
		return inference.DefaultOpenAIBaseURL
	case "gemini":
		if cfg.GeminiBaseURL != "" {
			return cfg.GeminiBaseURL
		}
		return inference.DefaultGeminiBaseURL
	}
	return ""
}

func modeLineText(c inference.Client, format string) string {
	return fmt.Sprintf("%s · %s · %s", c.Name(), c.Model(), format)
}

func run() {
	flags := config.RegisterFlags(flag.CommandLine)
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven); optional WAV argument feeds the microphone")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Long-press threshold for push-to-talk vs tap (e.g., 350ms)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("nudge %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(flags.ConfigPath(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	flags.Apply(&cfg)
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if *testFlag || !cfg.Beep {
		beep.Disable()
	}

	tz := cfg.ResolveTimezone(nil)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	// shared so the warm-up connection is reused by the first request
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	client, err := inference.New(inference.Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		BaseURL:     providerBaseURL(cfg),
		Temperature: cfg.Temperature,
		Timezone:    tz,
		Transport:   transport,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	if cfg.DebugAddr != "" {
		http.Handle("/metrics", metrics.Handler(reg))
		go func() {
			fmt.Fprintf(os.Stderr, "debug server listening on http://%s/ (metrics, debug/pprof)\n", cfg.DebugAddr)
			if err := http.ListenAndServe(cfg.DebugAddr, nil); err != nil {
				log.Errorf("debug server error: %v", err)
			}
		}()
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if *doctorFlag {
		code := doctor.Run(ctx, os.Stdout, doctor.Checks(doctor.Options{
			Config:       cfg,
			Timezone:     tz,
			Client:       client,
			ProbeURL:     providerBaseURL(cfg),
			Transport:    transport,
			AudioContext: audio.NewContext,
			Hotkey:       cfg.Hotkey,
			Clipboard:    true,
		}))
		stop()
		os.Exit(code)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.SessionStart(client.Name(), client.Model(), cfg.Format)

	orch := session.New(client, session.Options{ResetDelay: cfg.ResetDelay, Metrics: m})

	if *testFlag {
		wav := ""
		if args := flag.Args(); len(args) > 0 {
			wav = args[0]
		}
		code := runTestMode(ctx, orch, cfg, loc, wav, *longPressFlag, m)
		log.SessionEnd(len(orch.State().History))
		log.Close()
		os.Exit(code)
	}

	sink := newTUISink()
	a := newApp(ctx, orch, sink, loc)

	var deviceName string
	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		a.setAudioError(err)
	} else {
		defer actx.Close()
		dev, err := pickDevice(actx, cfg.Device, *setupFlag)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: %v, falling back to default device\n", err)
		}
		if dev != nil {
			deviceName = dev.Name
		}
		a.attach(recorder.New(recorder.Config{
			Context:  actx,
			Device:   dev,
			Format:   cfg.Format,
			AutoStop: cfg.AutoStop,
			Metrics:  m,
		}))
	}
	_, audioErr := a.current()

	var hotkeyErr error
	if cfg.Hotkey {
		hk := hotkey.New()
		if hotkeyErr = hk.Register(); hotkeyErr != nil {
			log.Warnf("hotkey register failed: %v", hotkeyErr)
		} else {
			defer hk.Unregister()
			hy := hotkey.NewHybrid(hk, *longPressFlag)
			defer hy.Close()
			go a.listenHotkey(hy)
		}
	}

	if url := providerBaseURL(cfg); url != "" {
		go func() {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if d, err := inference.NewTracedClient(transport).Warm(wctx, url); err != nil {
				log.Warnf("warm connection to %s failed: %v", url, err)
			} else {
				log.Infof("warm_connection url=%s duration=%s", url, d)
			}
		}()
	}

	model := newTUIModel(a, tuiOptions{
		ModeLine:   modeLineText(client, cfg.Format),
		DeviceLine: deviceLineText(deviceName, audioErr),
		HotkeyLine: hotkeyLineText(cfg.Hotkey, hotkeyErr),
	})
	tuiMu.Lock()
	tuiProgram = NewTUIProgram(model)
	p := tuiProgram
	tuiMu.Unlock()

	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}

	stop()
	a.close()
	log.SessionEnd(len(orch.State().History))
}

// pickDevice resolves the configured capture device. A nil device with a
// nil error means the system default.
func pickDevice(ctx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	switch {
	case name != "":
		return audio.FindDevice(ctx, name)
	case setup:
		dev, err := audio.SelectDevice(ctx)
		if errors.Is(err, audio.ErrSelectionCancelled) {
			fmt.Println("Selection cancelled.")
			os.Exit(0)
		}
		return dev, err
	}
	return nil, nil
}
