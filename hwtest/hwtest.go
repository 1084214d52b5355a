// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package hwtest provides helpers for testing machines and peripherals.
//
package hwtest

import (
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/cpu"
)

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// Logger returns a logger writing debug and higher records to t.Log.
//
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// NewMachine returns a new machine logging to t.
//
func NewMachine(t testing.TB, cfg platsim.Config) *platsim.Machine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = Logger(t)
	}
	if cfg.Name == "" {
		cfg.Name = t.Name()
	}
	return platsim.New(cfg)
}

// Event is a level change seen by a Recorder.
//
type Event struct {
	Number int
	Level  bool
}

// Recorder is a gpio.Receiver that records every level it receives.
//
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// OnGPIO implements gpio.Receiver.
//
func (r *Recorder) OnGPIO(n int, level bool) {
	r.mu.Lock()
	r.events = append(r.events, Event{n, level})
	r.mu.Unlock()
}

// Events returns the recorded events.
//
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Level returns the last level received on input n.
//
func (r *Recorder) Level(n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Number == n {
			return r.events[i].Level
		}
	}
	return false
}

// Count returns the number of times input n went to level.
//
func (r *Recorder) Count(n int, level bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cnt int
	for _, e := range r.events {
		if e.Number == n && e.Level == level {
			cnt++
		}
	}
	return cnt
}

// Reset forgets all recorded events.
//
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// ScriptEngine is a cpu.Engine that runs one function per instruction. The
// core halts when the script ends. A function returning an error stops the
// machine.
//
type ScriptEngine struct {
	Script []func(c *cpu.Core) error
	// OnException, if not nil, is called for each exception after it is
	// recorded.
	OnException func(c *cpu.Core, code uint32)

	mu   sync.Mutex
	pos  int
	excs []uint32
}

// Execute implements cpu.Engine.
//
func (e *ScriptEngine) Execute(c *cpu.Core, n uint64) (uint64, error) {
	for i := uint64(0); i < n; i++ {
		e.mu.Lock()
		if e.pos >= len(e.Script) {
			e.mu.Unlock()
			c.Halt()
			return i, nil
		}
		fn := e.Script[e.pos]
		e.pos++
		e.mu.Unlock()

		if fn != nil {
			if err := fn(c); err != nil {
				return i + 1, err
			}
		}
		c.SetPC(c.PC() + 4)
		if c.ReturnRequested() || c.IsHalted() {
			return i + 1, nil
		}
	}
	return n, nil
}

// Exception implements cpu.Engine.
//
func (e *ScriptEngine) Exception(c *cpu.Core, code uint32) {
	e.mu.Lock()
	e.excs = append(e.excs, code)
	fn := e.OnException
	e.mu.Unlock()
	if fn != nil {
		fn(c, code)
	}
}

// Exceptions returns the exception codes delivered so far.
//
func (e *ScriptEngine) Exceptions() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint32(nil), e.excs...)
}

// Done reports whether the whole script has run.
//
func (e *ScriptEngine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos >= len(e.Script)
}
