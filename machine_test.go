// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package platsim_test

import (
	"context"
	"testing"
	"time"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/cpu"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/hwlib"
	"github.com/db47h/platsim/hwtest"
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

func TestMachine_interruptController(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{})
	plic, err := hwlib.NewPLIC(m, "plic", 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Register(plic, "plic", 0); err != nil {
		t.Fatal(err)
	}
	reg, ok := m.Bus().Lookup(0xFFF)
	if !ok || reg.Peripheral != plic {
		t.Fatal("0xFFF not routed to the interrupt controller")
	}
	var src gpio.Line
	if err = m.Connect(&src, plic, 2); err != nil {
		t.Fatal(err)
	}

	bus := m.Bus()
	bus.Write32(0x8, 5)
	if got := bus.Read32(0x8); got != 5 {
		t.Fatalf("priority of source 2 = %d, expected 5", got)
	}
	bus.Write32(0x2000, 1<<2)
	src.Set()
	if got := bus.Read32(0x200004); got != 2 {
		t.Fatalf("claim = %d, expected 2", got)
	}
}

func TestMachine_run(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{ClockFrequency: 1000, Quantum: 7})
	var engines []*hwtest.ScriptEngine
	for i := 0; i < 3; i++ {
		e := &hwtest.ScriptEngine{Script: make([]func(*cpu.Core) error, 100)}
		if _, err := m.AddCPU(e, cpu.Config{InstructionsPerTick: uint64(i + 1)}); err != nil {
			t.Fatal(err)
		}
		engines = append(engines, e)
	}
	if err := m.RunFor(context.Background(), 20*time.Millisecond); err != nil {
		trace(t, err)
		t.Fatal(err)
	}
	if now := m.Clock().Now(); now != 20 {
		t.Fatalf("clock = %d, expected 20", now)
	}
	for i, c := range m.Cores() {
		if got, want := c.ExecutedInstructions(), uint64(20*(i+1)); got != want {
			t.Errorf("core %d executed %d instructions, expected %d", i, got, want)
		}
		if c.LocalTime() != 20 {
			t.Errorf("core %d local time = %d", i, c.LocalTime())
		}
	}
	if err := m.Run(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	for i, e := range engines {
		if !e.Done() || !m.Cores()[i].IsHalted() {
			t.Errorf("core %d did not finish its script", i)
		}
	}
	if m.Clock().Now() != 120 {
		t.Fatalf("clock = %d, expected 120", m.Clock().Now())
	}
}

func TestMachine_engineError(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{})
	errBoom := errors.New("illegal instruction")
	e := &hwtest.ScriptEngine{Script: []func(*cpu.Core) error{
		nil,
		func(*cpu.Core) error { return errBoom },
	}}
	if _, err := m.AddCPU(e, cpu.Config{}); err != nil {
		t.Fatal(err)
	}
	idle := &hwtest.ScriptEngine{Script: make([]func(*cpu.Core) error, 1000)}
	if _, err := m.AddCPU(idle, cpu.Config{}); err != nil {
		t.Fatal(err)
	}
	err := m.Run(context.Background(), 1000)
	if errors.Cause(err) != errBoom {
		t.Fatalf("expected %v, got %v", errBoom, err)
	}
}

func TestMachine_cancel(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{})
	if _, err := m.AddCPU(&hwtest.ScriptEngine{}, cpu.Config{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx, 1000); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Clock().Now() != 0 {
		t.Fatal("clock advanced after cancellation")
	}
}

func TestMachine_timerWakesCore(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{ClockFrequency: 32768})
	tm := hwlib.NewLPTimer(m, "lptim", 32768)
	if err := m.Register(tm, "lptim", 0x40007C00); err != nil {
		t.Fatal(err)
	}
	var woken uint64
	e := &hwtest.ScriptEngine{Script: []func(*cpu.Core) error{
		func(c *cpu.Core) error {
			c.Store(0x40007C08, register.DoubleWord, 1<<1)   // IER.ARRMIE
			c.Store(0x40007C10, register.DoubleWord, 1)      // CR.ENABLE
			c.Store(0x40007C18, register.DoubleWord, 100)    // ARR
			c.Store(0x40007C10, register.DoubleWord, 1|1<<2) // CR.CNTSTRT
			return nil
		},
		func(c *cpu.Core) error {
			c.Halt()
			return nil
		},
		func(c *cpu.Core) error {
			woken = c.Interrupts()
			return nil
		},
	}}
	core, err := m.AddCPU(e, cpu.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Connect(tm.IRQ(), core, 7); err != nil {
		t.Fatal(err)
	}
	if err = m.Run(context.Background(), 50); err != nil {
		t.Fatal(err)
	}
	if !core.IsHalted() {
		t.Fatal("core not halted")
	}
	if err = m.Run(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	if woken != 1<<7 {
		t.Fatalf("interrupts seen by the core = %#x, expected %#x", woken, 1<<7)
	}
}

func TestMachine_addCPUWhileRunning(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{})
	var addErr error
	e := &hwtest.ScriptEngine{Script: []func(*cpu.Core) error{
		func(*cpu.Core) error {
			_, addErr = m.AddCPU(&hwtest.ScriptEngine{}, cpu.Config{})
			return nil
		},
	}}
	if _, err := m.AddCPU(e, cpu.Config{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if addErr != platsim.ErrRunning {
		t.Fatalf("expected ErrRunning, got %v", addErr)
	}
	if len(m.Cores()) != 1 {
		t.Fatal("core added while running")
	}
}

func TestMachine_registerRange(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{UnmappedValue: 0xFF})
	rom := hwlib.NewMemory("rom", 0x1000)
	if err := m.RegisterRange(rom, "rom", sysbus.Range{Base: 0x8000, Size: 0x100}); err != nil {
		t.Fatal(err)
	}
	err := m.Register(hwlib.NewMemory("ram", 0x10), "ram", 0x80F8)
	if errors.Cause(err) != sysbus.ErrOverlap {
		t.Fatalf("expected overlap error, got %v", err)
	}
	m.Seal()
	err = m.Register(hwlib.NewMemory("ram", 0x10), "ram", 0x9000)
	if errors.Cause(err) != sysbus.ErrSealed {
		t.Fatalf("expected sealed bus error, got %v", err)
	}
	m.Bus().Write8(0x80FF, 0x42)
	if got := m.Bus().Read8(0x80FF); got != 0x42 {
		t.Fatalf("read %#x", got)
	}
	if got := m.Bus().Read8(0x8100); got != 0xFF {
		t.Fatalf("read %#x past the window, expected the unmapped value", got)
	}
}
