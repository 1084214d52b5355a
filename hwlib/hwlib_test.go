// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/sysbus"
	"github.com/pkg/errors"
)

func trace(t *testing.T, err error) {
	t.Helper()
	if err, ok := err.(interface {
		StackTrace() errors.StackTrace
	}); ok {
		for _, f := range err.StackTrace() {
			t.Logf("%+v ", f)
		}
	}
}

// initiator is a bus master that records the exceptions it receives.
//
type initiator struct {
	id      int
	excs    []uint32
	returns int
}

func (i *initiator) ID() int                 { return i.id }
func (i *initiator) Name() string            { return "fake" }
func (i *initiator) PC() uint64              { return 0x1000 }
func (i *initiator) RaiseException(c uint32) { i.excs = append(i.excs, c) }
func (i *initiator) RequestReturn()          { i.returns++ }

func read(p sysbus.Peripheral, off uint64, from sysbus.Initiator) uint64 {
	return p.Read(sysbus.Access{Offset: off, Width: register.DoubleWord, Kind: sysbus.Read, Initiator: from})
}

func write(p sysbus.Peripheral, off, v uint64, from sysbus.Initiator) {
	p.Write(sysbus.Access{Offset: off, Width: register.DoubleWord, Kind: sysbus.Write, Initiator: from}, v)
}

// logBuffer collects log output.
//
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), []byte(s))
}

func newLoggedMachine(freq uint64) (*platsim.Machine, *logBuffer) {
	lb := new(logBuffer)
	m := platsim.New(platsim.Config{
		ClockFrequency: freq,
		Logger:         slog.New(slog.NewTextHandler(lb, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	return m, lb
}

func run(t *testing.T, m *platsim.Machine, ticks uint64) {
	t.Helper()
	if err := m.Run(context.Background(), ticks); err != nil {
		trace(t, err)
		t.Fatal(err)
	}
}
