// Package beep plays short audible cues around recording and inference.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

const sampleRate = 44100

type Cue int

const (
	Start Cue = iota
	Stop
	Success
	Error
)

func (c Cue) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "unknown"
}

type tone struct {
	freq     float64
	duration float64 // seconds
	volume   float64
	decay    float64
}

// Start: high short tick. Stop: lower tick. Success: rising pair.
// Error: low double beep.
var cues = map[Cue][]tone{
	Start:   {{1200, 0.03, 0.5, 60}},
	Stop:    {{900, 0.05, 0.5, 40}},
	Success: {{880, 0.06, 0.45, 35}, {1320, 0.08, 0.45, 35}},
	Error:   {{350, 0.08, 0.6, 30}, {350, 0.08, 0.6, 30}},
}

const gapDuration = 0.05

var (
	disabled atomic.Bool
	cache    sync.Map // Cue -> []int16
)

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Play starts the cue in the background. Unknown cues and a disabled
// package are silent.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	s := Samples(c)
	if len(s) == 0 {
		return
	}
	go play(s)
}

// Samples returns the mono S16 waveform for c at 44.1 kHz.
func Samples(c Cue) []int16 {
	if v, ok := cache.Load(c); ok {
		return v.([]int16)
	}
	tones, ok := cues[c]
	if !ok {
		return nil
	}
	var out []int16
	for i, t := range tones {
		if i > 0 {
			out = append(out, make([]int16, int(sampleRate*gapDuration))...)
		}
		out = append(out, generateTick(t)...)
	}
	// pulse needs a short tail to fill its buffer before draining
	out = append(out, make([]int16, sampleRate/20)...)
	cache.Store(c, out)
	return out
}

func generateTick(t tone) []int16 {
	n := int(sampleRate * t.duration)
	samples := make([]int16, n)
	for i := range samples {
		x := float64(i) / sampleRate
		envelope := math.Exp(-x * t.decay)
		samples[i] = int16(math.Sin(2*math.Pi*t.freq*x) * 32767 * t.volume * envelope)
	}
	return samples
}
