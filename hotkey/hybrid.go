package hotkey

import (
	"sync/atomic"
	"time"
)

// Hybrid turns raw press/release events into recording toggles. A tap
// starts a recording that the next tap stops; holding the chord past the
// long-press threshold records until release.
type Hybrid struct {
	startCh chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	hold    atomic.Bool
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		startCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go h.run(hk, longPress)
	return h
}

func (h *Hybrid) Start() <-chan struct{} { return h.startCh }
func (h *Hybrid) Stop() <-chan struct{}  { return h.stopCh }

// Holding reports whether the current recording is push-to-talk.
func (h *Hybrid) Holding() bool { return h.hold.Load() }

// Close ends the event loop.
func (h *Hybrid) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hybrid) wait(ch <-chan struct{}) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case <-ch:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hybrid) emit(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	case <-h.done:
	}
}

func (h *Hybrid) run(hk Hotkey, longPress time.Duration) {
	for {
		if !h.wait(hk.Keydown()) {
			return
		}
		h.hold.Store(false)
		h.emit(h.startCh)

		timer := time.NewTimer(longPress)
		select {
		case <-timer.C:
			h.hold.Store(true)
			if !h.wait(hk.Keyup()) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			// tapped: the next press and release stops
			if !h.wait(hk.Keydown()) || !h.wait(hk.Keyup()) {
				return
			}
		case <-h.done:
			timer.Stop()
			return
		}
		h.emit(h.stopCh)
		h.hold.Store(false)
	}
}
