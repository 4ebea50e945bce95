package spectrum

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRate = 16000

func tone(n int, freq, amp float64) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func peak(bins []uint8) int {
	best := 0
	for i, v := range bins {
		if v > bins[best] {
			best = i
		}
	}
	return best
}

func TestNewRoundsToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 512, New(300).Size())
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, 128, New(256).Bins())
}

func TestFrequenciesPeakAtToneBin(t *testing.T) {
	a := New(256)
	// 2000 Hz at 16 kHz over 256 points lands on bin 32.
	a.Write(tone(1024, 2000, 0.8))

	bins := a.Frequencies(nil)
	require.Len(t, bins, 128)
	assert.Equal(t, 32, peak(bins))
	assert.Greater(t, int(bins[32]), 100)
	assert.Less(t, int(bins[100]), 10)
}

func TestFrequenciesScaleLinearly(t *testing.T) {
	loud, quiet := New(256), New(256)
	loud.Write(tone(256, 2000, 0.8))
	quiet.Write(tone(256, 2000, 0.4))

	l := float64(loud.Frequencies(nil)[32])
	q := float64(quiet.Frequencies(nil)[32])
	assert.InDelta(t, 2.0, l/q, 0.1)
}

func TestSilence(t *testing.T) {
	a := New(256)
	bins := a.Frequencies(make([]uint8, 4))
	assert.Len(t, bins, 128)
	for _, v := range bins {
		assert.Zero(t, v)
	}
	assert.Zero(t, a.Level())

	a.Write(make([]byte, 512))
	assert.Zero(t, a.Level())
}

func TestLevel(t *testing.T) {
	a := New(256)
	a.Write(tone(256, 1000, 1.0))
	// RMS of a full-scale sine is 1/sqrt(2).
	assert.InDelta(t, 1/math.Sqrt2, a.Level(), 0.02)
}

func TestClose(t *testing.T) {
	a := New(256)
	a.Write(tone(256, 1000, 0.5))
	a.Close()
	assert.True(t, a.Closed())

	a.Write(tone(256, 1000, 0.5))
	assert.Zero(t, a.Level())
	assert.Zero(t, peak(a.Frequencies(nil)))
}
