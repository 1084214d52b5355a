// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package gpio implements boolean signal lines connecting peripherals,
// interrupt controllers and CPUs.
//
// A Line fans out to any number of receivers. Receivers see a level change
// only when the line level actually changes; controllers that need edges keep
// their own view of previous levels (see EdgeDetector), since OnGPIO may also
// be called directly with repeated levels.
//
package gpio

import (
	"sync"
	"sync/atomic"
)

// A Receiver accepts signal level changes on its numbered inputs.
//
type Receiver interface {
	OnGPIO(number int, level bool)
}

// ReceiverFunc adapts a function to the Receiver interface.
//
type ReceiverFunc func(number int, level bool)

// OnGPIO calls f(number, level).
//
func (f ReceiverFunc) OnGPIO(number int, level bool) { f(number, level) }

// Probe returns a Receiver that calls fn with the new level of any input.
//
func Probe(fn func(level bool)) Receiver {
	return ReceiverFunc(func(_ int, level bool) { fn(level) })
}

// An Endpoint is a numbered input of a Receiver.
//
type Endpoint struct {
	Receiver Receiver
	Number   int
}

// A Line is a boolean signal. The zero value is an unset line with no
// receivers.
//
// Level changes are delivered to receivers synchronously and in connection
// order, while holding the line's delivery lock: a receiver must not set the
// line that is notifying it.
//
type Line struct {
	level   atomic.Bool
	mu      sync.Mutex
	targets []Endpoint
}

// Set raises the line.
//
func (l *Line) Set() { l.SetLevel(true) }

// Unset lowers the line.
//
func (l *Line) Unset() { l.SetLevel(false) }

// Toggle inverts the line level.
//
func (l *Line) Toggle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(!l.level.Load())
}

// Pulse raises then lowers the line.
//
func (l *Line) Pulse() {
	l.Set()
	l.Unset()
}

// SetLevel sets the line level and notifies receivers if it changed.
//
func (l *Line) SetLevel(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(level)
}

func (l *Line) setLocked(level bool) {
	if l.level.Load() == level {
		return
	}
	l.level.Store(level)
	for _, e := range l.targets {
		e.Receiver.OnGPIO(e.Number, level)
	}
}

// IsSet returns the line level.
//
func (l *Line) IsSet() bool { return l.level.Load() }

// OnGPIO makes a Line usable as a receiver: the line follows the level of
// its source.
//
func (l *Line) OnGPIO(_ int, level bool) { l.SetLevel(level) }

// Connect adds input number of r to the line receivers.
//
func (l *Line) Connect(r Receiver, number int) {
	l.mu.Lock()
	l.targets = append(l.targets, Endpoint{r, number})
	l.mu.Unlock()
}

// Disconnect removes all receivers.
//
func (l *Line) Disconnect() {
	l.mu.Lock()
	l.targets = nil
	l.mu.Unlock()
}

// Endpoints returns the receivers connected to the line.
//
func (l *Line) Endpoints() []Endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Endpoint(nil), l.targets...)
}

func (l *Line) remove(r Receiver, number int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.targets {
		if e.Number == number && e.Receiver == r {
			l.targets = append(l.targets[:i], l.targets[i+1:]...)
			return
		}
	}
}

// Connections are the numbered output lines of a peripheral.
//
type Connections map[int]*Line

// NewConnections returns count lines numbered from 0.
//
func NewConnections(count int) Connections {
	c := make(Connections, count)
	for i := 0; i < count; i++ {
		c[i] = new(Line)
	}
	return c
}

// Unset lowers all lines.
//
func (c Connections) Unset() {
	for _, l := range c {
		l.Unset()
	}
}

// A Source is a peripheral with numbered output lines.
//
type Source interface {
	Connections() Connections
}
