package audio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", errors.New("pulse: access denied"), ErrPermissionDenied},
		{"eperm", errors.New("open /dev/snd: operation not permitted"), ErrPermissionDenied},
		{"missing device", errors.New("no such device"), ErrDeviceUnavailable},
		{"busy", errors.New("device or resource busy"), ErrDeviceUnavailable},
		{"already classified", ErrPermissionDenied, ErrPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"WH-1000XM4", true},
		{"Jabra Evolve 75", true},
		{"Built-in Microphone", false},
		{"Blue Yeti", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBluetooth(tt.name))
		})
	}
}

func pcmOf(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%100)))
	}
	return pcm
}

func TestFakeCaptureBurst(t *testing.T) {
	pcm := pcmOf(5000)
	ctx := NewFakeContextPCM(pcm, false)
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []byte
	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	})
	require.NoError(t, dev.Start())
	fc := dev.(*FakeCapture)
	<-fc.AudioDone()
	dev.ClearCallback()
	dev.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(got), len(pcm))
	assert.Equal(t, pcm, got[:len(pcm)])
}

func TestFakeCaptureFailStart(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	ctx.FailStart = errors.New("permission denied by user")
	dev, err := ctx.NewCapture(nil, CaptureConfig{})
	require.NoError(t, err)

	err = dev.Start()
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestFakeCaptureReleased(t *testing.T) {
	ctx := NewFakeContextPCM(pcmOf(100), true)
	dev, err := ctx.NewCapture(nil, CaptureConfig{})
	require.NoError(t, err)
	dev.SetCallback(func([]byte, uint32) {})
	require.NoError(t, dev.Start())

	fc := ctx.Captures()[0]
	assert.False(t, fc.Released())

	done := make(chan struct{})
	go func() {
		dev.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.True(t, fc.Released())
	assert.Equal(t, 1, fc.CloseCount())
}

func TestNewFakeContextStripsHeader(t *testing.T) {
	pcm := pcmOf(64)
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, append(make([]byte, WAVHeaderSize), pcm...), 0o644))

	ctx, err := NewFakeContext(path, false)
	require.NoError(t, err)
	assert.Equal(t, pcm, ctx.pcm)

	_, err = NewFakeContext(filepath.Join(t.TempDir(), "missing.wav"), false)
	assert.Error(t, err)
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)

	d, err := FindDevice(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", d.Name)

	_, err = FindDevice(ctx, "USB Mic")
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
