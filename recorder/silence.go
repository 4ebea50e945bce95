package recorder

import "time"

const (
	tickInterval       = 100 * time.Millisecond
	silenceWarnAfter   = 8 * time.Second
	silenceAutoStopDur = 30 * time.Second
	speechMinRatio     = 0.10
	speechClearRatio   = 0.25 // higher threshold to clear warning (hysteresis)
)

// Notice is an advisory event raised while recording.
type Notice int

const (
	NoticeNone     Notice = iota
	NoticeSilence         // no voice detected
	NoticeVoice           // voice resumed after NoticeSilence
	NoticeAutoStop        // recording stopped after sustained silence
)

func (n Notice) String() string {
	switch n {
	case NoticeSilence:
		return "silence"
	case NoticeVoice:
		return "voice"
	case NoticeAutoStop:
		return "auto_stop"
	}
	return "none"
}

// silenceMonitor tracks per-tick speech decisions over a sliding window.
type silenceMonitor struct {
	warnAt   int
	windowSz int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
}

func newSilenceMonitor(autoStop bool) *silenceMonitor {
	warnAt := int(silenceWarnAfter / tickInterval)
	windowSz := int(silenceAutoStopDur / tickInterval)
	return &silenceMonitor{
		warnAt:   warnAt,
		windowSz: windowSz,
		autoStop: autoStop,
		window:   make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) Notice {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		return NoticeSilence
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return NoticeVoice
	}

	if m.autoStop && m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return NoticeAutoStop
	}
	return NoticeNone
}
