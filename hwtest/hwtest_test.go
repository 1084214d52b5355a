// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwtest_test

import (
	"context"
	"testing"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/cpu"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/hwtest"
)

func TestRecorder(t *testing.T) {
	var (
		l gpio.Line
		r hwtest.Recorder
	)
	l.Connect(&r, 4)
	l.Set()
	l.Set()
	l.Unset()
	l.Pulse()
	if got := r.Count(4, true); got != 2 {
		t.Fatalf("rising count = %d, expected 2", got)
	}
	if r.Level(4) {
		t.Fatal("line 4 still high")
	}
	if ev := r.Events(); len(ev) != 4 || ev[0] != (hwtest.Event{Number: 4, Level: true}) {
		t.Fatalf("events = %v", ev)
	}
	r.Reset()
	if len(r.Events()) != 0 {
		t.Fatal("events not cleared")
	}
}

func TestScriptEngine(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{})
	var steps []uint64
	e := &hwtest.ScriptEngine{}
	for i := 0; i < 3; i++ {
		e.Script = append(e.Script, func(c *cpu.Core) error {
			steps = append(steps, c.PC())
			return nil
		})
	}
	c, err := m.AddCPU(e, cpu.Config{ResetPC: 0x100})
	if err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if err = m.Run(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if !e.Done() || !c.IsHalted() {
		t.Fatalf("done %v, halted %v", e.Done(), c.IsHalted())
	}
	if len(steps) != 3 || steps[0] != 0x100 || steps[2] != 0x108 {
		t.Fatalf("steps = %#x", steps)
	}
	c.RaiseException(7)
	if err = m.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if ex := e.Exceptions(); len(ex) != 1 || ex[0] != 7 {
		t.Fatalf("exceptions = %v", ex)
	}
}
