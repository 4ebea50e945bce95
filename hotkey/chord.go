package hotkey

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
	keyLCtrl   = 29
	keyRCtrl   = 97
	keyLShift  = 42
	keyRShift  = 54
	keyR       = 19
)

// input_event on 64-bit Linux: timeval (16) + type (2) + code (2) + value (4)
const inputEventSize = 24

// chord tracks modifier state across evdev key events. Autorepeat
// (value 2) keeps the current state.
type chord struct {
	ctrl, shift, key bool
}

// feed applies one event and reports whether the chord was just pressed or
// released.
func (c *chord) feed(evType, code uint16, value int32) (down, up bool) {
	if evType != evKey {
		return false, false
	}
	pressed := value == keyPress
	released := value == keyRelease

	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = pressed || (!released && c.ctrl)
	case keyLShift, keyRShift:
		c.shift = pressed || (!released && c.shift)
	case keyR:
		if pressed && !c.key && c.ctrl && c.shift {
			c.key = true
			return true, false
		}
		if released && c.key {
			c.key = false
			return false, true
		}
	}
	return false, false
}
