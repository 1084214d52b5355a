// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package vclock

// ComparatorConfig is the initial configuration of a Comparator.
//
type ComparatorConfig struct {
	Name      string
	Frequency uint64
	Divider   uint64
	Compare   uint64
	Enabled   bool
}

// A Comparator is a free running 64 bits counter that calls its compare
// callback each time the counter reaches the compare value. The counter wraps
// around at 2^64.
//
type Comparator struct {
	counter
	cfg     ComparatorConfig
	value   uint64
	compare uint64
	armed   bool
	handler func()
}

// NewComparator creates a comparator driven by clock c.
//
func NewComparator(c *Clock, cfg ComparatorConfig) *Comparator {
	t := &Comparator{counter: counter{clock: c}, cfg: cfg}
	t.resetLocked()
	c.add(t)
	return t
}

func (t *Comparator) resetLocked() {
	cfg := t.cfg
	t.name = cfg.Name
	t.frequency = cfg.Frequency
	t.divider = cfg.Divider
	t.enabled = cfg.Enabled
	t.acc = 0
	t.value = 0
	t.compare = cfg.Compare
	t.armed = true
}

// Reset restores the initial configuration. The callback is kept.
//
func (t *Comparator) Reset() {
	t.lock()
	t.resetLocked()
	t.unlock()
}

func (t *Comparator) remaining() (uint64, bool) {
	if t.compare == t.value {
		return 0, t.armed
	}
	return t.compare - t.value, true
}

func (t *Comparator) advance(n uint64) uint64 {
	r, ok := t.remaining()
	t.value += n
	if ok && n >= r {
		// disarm while sitting on the compare value
		t.armed = n != r
		return 1
	}
	if n > 0 {
		t.armed = true
	}
	return 0
}

func (t *Comparator) fire() {
	t.lock()
	h := t.handler
	t.unlock()
	if h != nil {
		h()
	}
}

// OnCompare sets the compare reached callback.
//
func (t *Comparator) OnCompare(fn func()) {
	t.lock()
	t.handler = fn
	t.unlock()
}

// Value returns the counter value.
//
func (t *Comparator) Value() uint64 {
	t.lock()
	defer t.unlock()
	return t.value
}

// SetValue sets the counter value.
//
func (t *Comparator) SetValue(v uint64) {
	t.lock()
	t.value, t.armed = v, true
	t.unlock()
}

// Compare returns the compare value.
//
func (t *Comparator) Compare() uint64 {
	t.lock()
	defer t.unlock()
	return t.compare
}

// SetCompare sets the compare value.
//
func (t *Comparator) SetCompare(v uint64) {
	t.lock()
	t.compare, t.armed = v, true
	t.unlock()
}

// SetValueHalf replaces the low (high == false) or high 32 bits of the
// counter, leaving the other half untouched.
//
func (t *Comparator) SetValueHalf(high bool, v uint32) {
	t.lock()
	t.value, t.armed = splice(t.value, high, v), true
	t.unlock()
}

// SetCompareHalf replaces the low or high 32 bits of the compare value.
//
func (t *Comparator) SetCompareHalf(high bool, v uint32) {
	t.lock()
	t.compare, t.armed = splice(t.compare, high, v), true
	t.unlock()
}

func splice(old uint64, high bool, v uint32) uint64 {
	if high {
		return old&0xFFFFFFFF | uint64(v)<<32
	}
	return old&0xFFFFFFFF00000000 | uint64(v)
}
