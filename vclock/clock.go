// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package vclock implements a virtual clock and the timers driven by it.
//
// The clock counts base ticks at a fixed virtual frequency and is advanced
// only by the machine scheduler. Each timer counts at its own frequency,
// divided by its divider; the conversion from base ticks is exact, fractional
// timer ticks are carried over to the next advance.
//
// Advance splits the elapsed time at every timer event so that limit and
// compare callbacks run at their exact virtual time, in timer creation order,
// without holding the clock lock. Callbacks may freely reconfigure timers.
//
package vclock

import (
	"math"
	"math/bits"
	"sync"
	"time"
)

// A Clock is a virtual time source.
//
type Clock struct {
	mu        sync.Mutex
	frequency uint64
	now       uint64
	sources   []source
}

type source interface {
	base() *counter
	// remaining returns the number of own ticks until the next event.
	remaining() (uint64, bool)
	// advance counts n own ticks and returns the number of events reached.
	advance(n uint64) uint64
	fire()
}

// NewClock returns a clock counting frequency ticks per virtual second.
//
func NewClock(frequency uint64) *Clock {
	if frequency == 0 {
		frequency = 1
	}
	return &Clock{frequency: frequency}
}

// Frequency returns the number of ticks per virtual second.
//
func (c *Clock) Frequency() uint64 { return c.frequency }

// Now returns the number of ticks elapsed since the clock was created.
//
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Elapsed returns the virtual time elapsed since the clock was created.
//
func (c *Clock) Elapsed() time.Duration {
	hi, lo := bits.Mul64(c.Now(), uint64(time.Second))
	if hi >= c.frequency {
		return time.Duration(math.MaxInt64)
	}
	q, _ := bits.Div64(hi, lo, c.frequency)
	if q > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(q)
}

// Ticks converts a virtual duration to clock ticks.
//
func (c *Clock) Ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(d), c.frequency)
	if hi >= uint64(time.Second) {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	return q
}

func (c *Clock) add(s source) {
	c.mu.Lock()
	c.sources = append(c.sources, s)
	c.mu.Unlock()
}

func (c *Clock) nextEventLocked() (uint64, bool) {
	var (
		min   uint64 = math.MaxUint64
		found bool
	)
	for _, s := range c.sources {
		cn := s.base()
		if !cn.enabled {
			continue
		}
		n, ok := s.remaining()
		if !ok {
			continue
		}
		if t := cn.baseTicks(c.frequency, n); t < min {
			min, found = t, true
		}
	}
	return min, found
}

// TicksToNextEvent returns the number of ticks until the next timer event. It
// returns false if no enabled timer has a pending event.
//
func (c *Clock) TicksToNextEvent() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextEventLocked()
}

// Advance moves the clock forward by ticks and fires timer events in order.
// Events due now fire once at the current instant. If callbacks leave a timer
// due again, the clock moves forward by one tick before firing it.
//
func (c *Clock) Advance(ticks uint64) {
	type event struct {
		s     source
		count uint64
	}
	var (
		fired []event
		idle  bool // a zero length step already ran at this instant
	)
	for ticks > 0 {
		c.mu.Lock()
		step := ticks
		if t, ok := c.nextEventLocked(); ok && t < step {
			step = t
		}
		if step == 0 && idle {
			step = 1
		}
		idle = step == 0
		c.now += step
		fired = fired[:0]
		for _, s := range c.sources {
			cn := s.base()
			if !cn.enabled {
				continue
			}
			if n := s.advance(cn.steps(c.frequency, step)); n > 0 {
				fired = append(fired, event{s, n})
			}
		}
		c.mu.Unlock()
		for _, e := range fired {
			for i := uint64(0); i < e.count; i++ {
				e.s.fire()
			}
		}
		ticks -= step
	}
}

// counter converts clock ticks to timer ticks.
//
type counter struct {
	clock     *Clock
	name      string
	frequency uint64
	divider   uint64
	enabled   bool
	acc       uint64 // fractional ticks, in 1/(clock frequency*divider) units
}

func (cn *counter) base() *counter { return cn }

func (cn *counter) den(clockFreq uint64) uint64 {
	d := cn.divider
	if d == 0 {
		d = 1
	}
	return clockFreq * d
}

// steps returns the number of timer ticks elapsed in d clock ticks.
//
func (cn *counter) steps(clockFreq, d uint64) uint64 {
	if cn.frequency == 0 || d == 0 {
		return 0
	}
	den := cn.den(clockFreq)
	hi, lo := bits.Mul64(d, cn.frequency)
	var carry uint64
	lo, carry = bits.Add64(lo, cn.acc, 0)
	hi += carry
	if hi >= den {
		cn.acc = 0
		return math.MaxUint64
	}
	q, r := bits.Div64(hi, lo, den)
	cn.acc = r
	return q
}

// baseTicks returns the number of clock ticks needed to count n timer ticks.
//
func (cn *counter) baseTicks(clockFreq, n uint64) uint64 {
	if n == 0 {
		return 0
	}
	if cn.frequency == 0 {
		return math.MaxUint64
	}
	den := cn.den(clockFreq)
	hi, lo := bits.Mul64(n, den)
	var c uint64
	lo, c = bits.Sub64(lo, cn.acc, 0)
	hi -= c
	lo, c = bits.Add64(lo, cn.frequency-1, 0)
	hi += c
	if hi >= cn.frequency {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, cn.frequency)
	return q
}

func (cn *counter) lock()   { cn.clock.mu.Lock() }
func (cn *counter) unlock() { cn.clock.mu.Unlock() }

// Name returns the timer name.
//
func (cn *counter) Name() string { return cn.name }

// Enabled reports whether the timer is counting.
//
func (cn *counter) Enabled() bool {
	cn.lock()
	defer cn.unlock()
	return cn.enabled
}

// SetEnabled starts or stops the timer. An event that became due while the
// timer was disabled fires on the next clock advance, never from SetEnabled.
//
func (cn *counter) SetEnabled(v bool) {
	cn.lock()
	if v && !cn.enabled {
		cn.acc = 0
	}
	cn.enabled = v
	cn.unlock()
}

// Divider returns the frequency divider.
//
func (cn *counter) Divider() uint64 {
	cn.lock()
	defer cn.unlock()
	if cn.divider == 0 {
		return 1
	}
	return cn.divider
}

// SetDivider sets the frequency divider. 0 is treated as 1.
//
func (cn *counter) SetDivider(d uint64) {
	cn.lock()
	if d == 0 {
		d = 1
	}
	cn.divider = d
	cn.acc = 0
	cn.unlock()
}

// Frequency returns the timer frequency before division.
//
func (cn *counter) Frequency() uint64 {
	cn.lock()
	defer cn.unlock()
	return cn.frequency
}

// SetFrequency sets the timer frequency before division.
//
func (cn *counter) SetFrequency(f uint64) {
	cn.lock()
	cn.frequency = f
	cn.acc = 0
	cn.unlock()
}
