package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
)

const WavHeaderSize = 44

// WavEncoder buffers PCM and prepends a RIFF header on Close, when the data
// size is known.
type WavEncoder struct {
	pcm    bytes.Buffer
	out    []byte
	frames uint64
	closed bool
	mu     sync.Mutex
}

func NewWav() *WavEncoder { return &WavEncoder{} }

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("wav encoder closed")
	}
	var b [2]byte
	for _, s := range block {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		e.pcm.Write(b[:])
	}
	e.frames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.out = append(WavHeader(e.pcm.Len()), e.pcm.Bytes()...)
	e.pcm.Reset()
	return nil
}

// Bytes is empty until Close.
func (e *WavEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *WavEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *WavEncoder) MIMEType() string { return "audio/wav" }

// WavHeader returns a 44-byte PCM header for dataSize bytes of 16 kHz mono S16.
func WavHeader(dataSize int) []byte {
	const blockAlign = Channels * BitsPerSample / 8
	buf := make([]byte, WavHeaderSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WavHeaderSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*blockAlign)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}
