// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package vclock

// Direction is the counting direction of a Timer.
//
type Direction uint8

// Counting directions.
//
const (
	// Ascending timers count from 0 up to their limit.
	Ascending Direction = iota
	// Descending timers count from their limit down to 0.
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "Descending"
	}
	return "Ascending"
}

// Mode tells what a Timer does when it reaches its limit.
//
type Mode uint8

// Timer modes.
//
const (
	// Periodic timers reload and keep counting.
	Periodic Mode = iota
	// OneShot timers reload and stop.
	OneShot
)

func (m Mode) String() string {
	if m == OneShot {
		return "OneShot"
	}
	return "Periodic"
}

// TimerConfig is the initial configuration of a Timer, restored by Reset.
//
type TimerConfig struct {
	Name      string
	Frequency uint64 // ticks per virtual second, before division
	Divider   uint64 // 0 is the same as 1
	Limit     uint64
	Direction Direction
	Mode      Mode
	Enabled   bool
}

// A Timer counts between 0 and its limit and calls its limit reached
// callback exactly once each time the limit is crossed.
//
// A timer with a zero limit never fires. Setters never fire the callback.
//
type Timer struct {
	counter
	cfg     TimerConfig
	value   uint64
	limit   uint64
	dir     Direction
	mode    Mode
	handler func()
}

// NewTimer creates a timer driven by clock c.
//
func NewTimer(c *Clock, cfg TimerConfig) *Timer {
	t := &Timer{counter: counter{clock: c}, cfg: cfg}
	t.resetLocked()
	c.add(t)
	return t
}

func (t *Timer) resetLocked() {
	cfg := t.cfg
	t.name = cfg.Name
	t.frequency = cfg.Frequency
	t.divider = cfg.Divider
	t.enabled = cfg.Enabled
	t.acc = 0
	t.limit = cfg.Limit
	t.dir = cfg.Direction
	t.mode = cfg.Mode
	t.reload()
}

func (t *Timer) reload() {
	if t.dir == Descending {
		t.value = t.limit
	} else {
		t.value = 0
	}
}

// Reset restores the initial configuration. The callback is kept.
//
func (t *Timer) Reset() {
	t.lock()
	t.resetLocked()
	t.unlock()
}

func (t *Timer) remaining() (uint64, bool) {
	if t.limit == 0 {
		return 0, false
	}
	if t.dir == Descending {
		return t.value, true
	}
	if t.value >= t.limit {
		return 0, true
	}
	return t.limit - t.value, true
}

func (t *Timer) advance(n uint64) uint64 {
	r, ok := t.remaining()
	switch {
	case !ok:
		if t.dir == Ascending {
			t.value += n
		} else if t.value >= n {
			t.value -= n
		} else {
			t.value = 0
		}
		return 0
	case n < r:
		if t.dir == Ascending {
			t.value += n
		} else {
			t.value -= n
		}
		return 0
	}
	// timers faster than the clock can overshoot
	over := n - r
	t.reload()
	if t.mode == OneShot {
		t.enabled = false
		return 1
	}
	fires := 1 + over/t.limit
	over %= t.limit
	if t.dir == Ascending {
		t.value = over
	} else {
		t.value = t.limit - over
	}
	return fires
}

func (t *Timer) fire() {
	t.lock()
	h := t.handler
	t.unlock()
	if h != nil {
		h()
	}
}

// OnLimitReached sets the limit reached callback.
//
func (t *Timer) OnLimitReached(fn func()) {
	t.lock()
	t.handler = fn
	t.unlock()
}

// Value returns the current counter value.
//
func (t *Timer) Value() uint64 {
	t.lock()
	defer t.unlock()
	return t.value
}

// SetValue sets the counter value.
//
func (t *Timer) SetValue(v uint64) {
	t.lock()
	t.value = v
	t.unlock()
}

// Limit returns the timer limit.
//
func (t *Timer) Limit() uint64 {
	t.lock()
	defer t.unlock()
	return t.limit
}

// SetLimit sets the timer limit. The counter value is not changed.
//
func (t *Timer) SetLimit(l uint64) {
	t.lock()
	t.limit = l
	t.unlock()
}

// ResetValue reloads the counter: 0 for ascending timers, the limit for
// descending ones.
//
func (t *Timer) ResetValue() {
	t.lock()
	t.reload()
	t.unlock()
}

// Direction returns the counting direction.
//
func (t *Timer) Direction() Direction {
	t.lock()
	defer t.unlock()
	return t.dir
}

// SetDirection sets the counting direction.
//
func (t *Timer) SetDirection(d Direction) {
	t.lock()
	t.dir = d
	t.unlock()
}

// Mode returns the timer mode.
//
func (t *Timer) Mode() Mode {
	t.lock()
	defer t.unlock()
	return t.mode
}

// SetMode sets the timer mode.
//
func (t *Timer) SetMode(m Mode) {
	t.lock()
	t.mode = m
	t.unlock()
}
