// Package recorder turns a capture device into a single encoded, base64
// payload while feeding a live spectrum to the UI.
package recorder

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"nudge/audio"
	"nudge/encoder"
	"nudge/log"
	"nudge/metrics"
	"nudge/spectrum"
)

const (
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultSpeechLevel   = 0.02
	MinDuration          = 100 * time.Millisecond
)

var (
	ErrNotRecording     = errors.New("not recording")
	ErrAlreadyRecording = errors.New("already recording")
	ErrTooShort         = errors.New("recording too short")
)

type Config struct {
	Context audio.Context
	Device  *audio.DeviceInfo // nil selects the system default
	Format  string            // encoder format, "flac" or "wav"

	FrameInterval time.Duration // visualization period
	FFTSize       int
	SpeechLevel   float64 // RMS above which a tick counts as speech
	AutoStop      bool    // stop after sustained silence

	Metrics *metrics.Metrics
}

// Recorder runs at most one recording at a time. The On* hooks must be set
// before the first Start and are called from recorder goroutines.
type Recorder struct {
	cfg Config

	OnComplete func(base64Data, mimeType string)
	OnFrame    func(bins []uint8)
	OnTick     func(elapsed time.Duration)
	OnNotice   func(n Notice)
	OnError    func(err error) // failures of an automatic stop

	mu  sync.Mutex
	rec *recording

	loops atomic.Int32
}

func New(cfg Config) *Recorder {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.SpeechLevel <= 0 {
		cfg.SpeechLevel = DefaultSpeechLevel
	}
	if cfg.Format == "" {
		cfg.Format = "flac"
	}
	return &Recorder{cfg: cfg}
}

// SetDevice changes the device used by the next Start.
func (r *Recorder) SetDevice(d *audio.DeviceInfo) {
	r.mu.Lock()
	r.cfg.Device = d
	r.mu.Unlock()
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec != nil
}

// Visualizing reports whether a visualization loop is still running.
func (r *Recorder) Visualizing() bool {
	return r.loops.Load() > 0
}

// recording holds everything acquired by one Start. Each handle pushes its
// own release func so that a failure midway frees exactly what was taken.
type recording struct {
	device   audio.CaptureDevice
	analyzer *spectrum.Analyzer
	enc      encoder.Encoder
	started  time.Time

	mu      sync.Mutex
	pending []int16
	chunks  chan []int16
	stopped bool
	frames  uint64
	peak    float64

	g         *errgroup.Group
	drainOnce sync.Once
	encErr    error

	autoStopped atomic.Bool

	releases    []func()
	releaseOnce sync.Once
}

func (rec *recording) push(fn func()) {
	rec.releases = append(rec.releases, fn)
}

// release runs the stack in reverse acquisition order, once.
func (rec *recording) release() {
	rec.releaseOnce.Do(func() {
		for i := len(rec.releases) - 1; i >= 0; i-- {
			rec.releases[i]()
		}
		rec.releases = nil
	})
}

// feed is the capture callback. It fans the buffer out to the analyzer and
// to the ordered block channel read by the encoder goroutine.
func (rec *recording) feed(data []byte, frameCount uint32) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stopped || len(data) < 2 {
		return
	}
	rec.frames += uint64(frameCount)

	rec.analyzer.Write(data)

	var sumSquares float64
	n := len(data) / 2
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		rec.pending = append(rec.pending, s)
		v := float64(s) / 32768.0
		sumSquares += v * v
	}
	if rms := math.Sqrt(sumSquares / float64(n)); rms > rec.peak {
		rec.peak = rms
	}

	for len(rec.pending) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, rec.pending[:encoder.BlockSize])
		rec.pending = rec.pending[encoder.BlockSize:]
		rec.chunks <- block
	}
}

// takePeak returns the loudest callback RMS since the previous call.
func (rec *recording) takePeak() float64 {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p := rec.peak
	rec.peak = 0
	return p
}

func (rec *recording) duration() time.Duration {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return time.Duration(float64(rec.frames) / float64(encoder.SampleRate) * float64(time.Second))
}

// drain flushes the partial block, closes the chunk channel and waits for
// the encoder goroutine.
func (rec *recording) drain() error {
	rec.drainOnce.Do(func() {
		rec.mu.Lock()
		rec.stopped = true
		if len(rec.pending) > 0 {
			rec.chunks <- rec.pending
			rec.pending = nil
		}
		close(rec.chunks)
		rec.mu.Unlock()
		rec.encErr = rec.g.Wait()
	})
	return rec.encErr
}

// Start acquires the microphone and begins recording. Acquisition failures
// are returned wrapped in audio.ErrPermissionDenied or
// audio.ErrDeviceUnavailable and leave nothing held.
func (r *Recorder) Start() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		return ErrAlreadyRecording
	}

	rec := &recording{chunks: make(chan []int16, 64)}
	defer func() {
		if err != nil {
			rec.release()
			r.cfg.Metrics.ObserveRecording("device_error", 0)
		}
	}()

	dev, err := r.cfg.Context.NewCapture(r.cfg.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return audio.Classify(err)
	}
	rec.device = dev
	rec.push(func() {
		dev.ClearCallback()
		dev.Close()
	})

	rec.analyzer = spectrum.New(r.cfg.FFTSize)
	rec.push(rec.analyzer.Close)

	enc, err := encoder.New(r.cfg.Format)
	if err != nil {
		return err
	}
	rec.enc = enc
	rec.g = new(errgroup.Group)
	rec.g.Go(func() error {
		var encErr error
		for block := range rec.chunks {
			if encErr != nil {
				continue // keep draining so the capture callback never blocks
			}
			encErr = enc.EncodeBlock(block)
		}
		return encErr
	})
	rec.push(func() { _ = rec.drain() })

	dev.SetCallback(rec.feed)
	if err := dev.Start(); err != nil {
		return audio.Classify(err)
	}
	rec.started = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	r.loops.Add(1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer r.loops.Add(-1)
		r.visualize(ctx, rec)
	}()
	go func() {
		defer wg.Done()
		r.monitor(ctx, rec)
	}()
	rec.push(func() {
		cancel()
		wg.Wait()
	})

	r.rec = rec
	log.Infof("recording_start device=%s format=%s", dev.DeviceName(), r.cfg.Format)
	return nil
}

func (r *Recorder) visualize(ctx context.Context, rec *recording) {
	if r.OnFrame == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.OnFrame(rec.analyzer.Frequencies(nil))
		}
	}
}

// monitor drives the elapsed-time ticks and the silence monitor.
func (r *Recorder) monitor(ctx context.Context, rec *recording) {
	mon := newSilenceMonitor(r.cfg.AutoStop)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	perSecond := int(time.Second / tickInterval)
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n%perSecond == 0 && r.OnTick != nil {
			r.OnTick(time.Since(rec.started))
		}

		ev := mon.Tick(rec.takePeak() > r.cfg.SpeechLevel)
		switch ev {
		case NoticeNone:
			continue
		case NoticeSilence:
			log.Info("no_voice_warning")
		case NoticeAutoStop:
			log.Info("silence_auto_stop")
			rec.autoStopped.Store(true)
		}
		if r.OnNotice != nil {
			r.OnNotice(ev)
		}
		if ev == NoticeAutoStop {
			// Stop joins this goroutine, so it cannot run here.
			go func() {
				if err := r.stop(rec); err != nil && !errors.Is(err, ErrNotRecording) && r.OnError != nil {
					r.OnError(err)
				}
			}()
			return
		}
	}
}

// Stop ends the recording, releases the device and delivers the encoded
// payload through OnComplete. Recordings shorter than MinDuration are
// discarded with ErrTooShort.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil {
		return ErrNotRecording
	}
	return r.stop(rec)
}

func (r *Recorder) detach(rec *recording) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != rec || rec == nil {
		return false
	}
	r.rec = nil
	return true
}

func (r *Recorder) stop(rec *recording) error {
	if !r.detach(rec) {
		return ErrNotRecording
	}

	rec.device.Stop()
	rec.device.ClearCallback()
	encErr := rec.drain()
	rec.release()

	dur := rec.duration()
	if encErr != nil {
		r.cfg.Metrics.ObserveRecording("encode_error", dur)
		return fmt.Errorf("encode: %w", encErr)
	}
	if err := rec.enc.Close(); err != nil {
		r.cfg.Metrics.ObserveRecording("encode_error", dur)
		return fmt.Errorf("encode: %w", err)
	}
	if dur < MinDuration {
		r.cfg.Metrics.ObserveRecording("too_short", dur)
		log.Infof("recording_discarded duration=%s", dur)
		return ErrTooShort
	}

	data := rec.enc.Bytes()
	mime := rec.enc.MIMEType()
	log.Recording(log.RecordingStats{
		DurationS:  dur.Seconds(),
		RawSizeKB:  float64(rec.enc.TotalFrames()*2) / 1024,
		EncodedKB:  float64(len(data)) / 1024,
		MIMEType:   mime,
		AutoStop:   rec.autoStopped.Load(),
		DeviceName: rec.device.DeviceName(),
	})
	r.cfg.Metrics.ObserveRecording("ok", dur)

	if r.OnComplete != nil {
		r.OnComplete(base64.StdEncoding.EncodeToString(data), mime)
	}
	return nil
}

// Close abandons any recording in progress without calling OnComplete.
func (r *Recorder) Close() {
	r.mu.Lock()
	rec := r.rec
	r.mu.Unlock()
	if rec == nil || !r.detach(rec) {
		return
	}
	rec.device.Stop()
	rec.device.ClearCallback()
	_ = rec.drain()
	rec.release()
	_ = rec.enc.Close()
	r.cfg.Metrics.ObserveRecording("discarded", rec.duration())
	log.Info("recording_discarded")
}
