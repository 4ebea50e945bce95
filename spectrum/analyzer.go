// Package spectrum samples the magnitude per frequency bin of a live PCM
// stream for the recording visualization.
package spectrum

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
)

const DefaultSize = 256

// Analyzer holds the most recent Size samples. Writers and readers may run
// on different goroutines.
type Analyzer struct {
	size   int
	window []float64

	mu     sync.Mutex
	ring   []float64
	pos    int
	filled int
	closed bool
}

// New returns an analyzer over size samples. size is rounded up to a power
// of two; values below 16 use DefaultSize.
func New(size int) *Analyzer {
	if size < 16 {
		size = DefaultSize
	}
	n := 1
	for n < size {
		n <<= 1
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return &Analyzer{size: n, window: w, ring: make([]float64, n)}
}

func (a *Analyzer) Size() int { return a.size }

// Bins is the number of values Frequencies produces.
func (a *Analyzer) Bins() int { return a.size / 2 }

// Write appends little-endian signed 16-bit samples.
func (a *Analyzer) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		a.ring[a.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		a.pos = (a.pos + 1) % a.size
		if a.filled < a.size {
			a.filled++
		}
	}
}

// snapshot copies the ring in chronological order.
func (a *Analyzer) snapshot() []float64 {
	out := make([]float64, a.size)
	for i := range out {
		out[i] = a.ring[(a.pos+i)%a.size]
	}
	return out
}

// Frequencies fills dst with one magnitude per bin, scaled linearly to
// 0..255. dst is grown if it is too short.
func (a *Analyzer) Frequencies(dst []uint8) []uint8 {
	bins := a.Bins()
	if cap(dst) < bins {
		dst = make([]uint8, bins)
	}
	dst = dst[:bins]

	a.mu.Lock()
	if a.closed || a.filled == 0 {
		a.mu.Unlock()
		clear(dst)
		return dst
	}
	samples := a.snapshot()
	a.mu.Unlock()

	for i := range samples {
		samples[i] *= a.window[i]
	}
	spec := fft.FFTReal(samples)

	// A full-scale sine through a Hann window peaks at size/4.
	scale := 255 / (float64(a.size) / 4)
	for i := range dst {
		v := cmplx.Abs(spec[i]) * scale
		switch {
		case v >= 255:
			dst[i] = 255
		case v <= 0:
			dst[i] = 0
		default:
			dst[i] = uint8(v)
		}
	}
	return dst
}

// Level is the RMS of the buffered window, in [0, 1].
func (a *Analyzer) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.filled == 0 {
		return 0
	}
	var sum float64
	for _, s := range a.ring {
		sum += s * s
	}
	return math.Sqrt(sum / float64(a.filled))
}

// Close releases the analysis buffers. Later writes are dropped and reads
// return silence.
func (a *Analyzer) Close() {
	a.mu.Lock()
	a.closed = true
	a.ring = make([]float64, a.size)
	a.filled = 0
	a.mu.Unlock()
}

func (a *Analyzer) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
