// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"github.com/db47h/platsim"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/internal/bitutil"
	"github.com/db47h/platsim/register"
)

// EXTI defaults.
//
const (
	DefaultEXTILines       = 14
	DefaultEXTIDirectLines = 23
)

const extiSize = 0x400

// EXTI is an STM32 extended interrupt and event controller.
//
// Input n is routed to output n. Inputs below the first direct line raise
// their pending bit on the edges selected in the trigger registers, provided
// they are unmasked. Direct lines follow their input level.
//
//	0x00 IMR   interrupt mask
//	0x04 EMR   event mask
//	0x08 RTSR  rising trigger selection
//	0x0C FTSR  falling trigger selection
//	0x10 SWIER software interrupt event
//	0x14 PR    pending, write one to clear
//
type EXTI struct {
	device
	firstDirect int
	edges       gpio.EdgeDetector
	conns       gpio.Connections

	imr, rtsr, ftsr, swier, pr *register.ValueField
}

// NewEXTI returns a new EXTI with the given number of lines. Lines numbered
// firstDirect and above are direct lines.
//
func NewEXTI(m *platsim.Machine, name string, lines, firstDirect int) *EXTI {
	if lines <= 0 || lines > 32 {
		lines = DefaultEXTILines
	}
	e := &EXTI{
		firstDirect: firstDirect,
		conns:       gpio.NewConnections(lines),
	}
	e.init(m, name, extiSize, register.DoubleWord, 0)

	rw := func(off uint64, name string) *register.ValueField {
		return e.regs.DefineRegister(off, 0).DefineValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{Name: name})
	}
	e.imr = rw(0x00, "IMR")
	rw(0x04, "EMR")
	e.rtsr = rw(0x08, "RTSR")
	e.ftsr = rw(0x0C, "FTSR")
	e.swier = e.regs.DefineRegister(0x10, 0).DefineValueField(0, 32, register.Read|register.Set, register.Handlers[uint64]{
		Name:    "SWIER",
		OnWrite: func(old, v uint64) { e.softwareInterrupt(v &^ old) },
	})
	e.pr = e.regs.DefineRegister(0x14, 0).DefineValueField(0, 32, register.Read|register.WriteOneToClear, register.Handlers[uint64]{
		Name:    "PR",
		OnWrite: func(_, v uint64) { e.clearPending(v) },
	})
	return e
}

// Lines returns the number of lines.
//
func (e *EXTI) Lines() int { return len(e.conns) }

func (e *EXTI) softwareInterrupt(bits uint64) {
	bitutil.ForEachSet(bits, func(n int) {
		if n >= len(e.conns) {
			e.log.Warn("software interrupt out of range", "line", n, "lines", len(e.conns))
			return
		}
		if bitutil.IsSet(e.imr.Value(), n) {
			e.raise(n)
		}
	})
}

func (e *EXTI) clearPending(bits uint64) {
	_ = e.swier.Set(e.swier.Value() &^ bits)
	bitutil.ForEachSet(bits, func(n int) {
		if n >= len(e.conns) {
			e.log.Warn("cleared interrupt out of range", "line", n, "lines", len(e.conns))
			return
		}
		e.conns[n].Unset()
	})
}

func (e *EXTI) raise(n int) {
	_ = e.pr.Set(e.pr.Value() | 1<<uint(n))
	e.conns[n].Set()
}

// OnGPIO implements gpio.Receiver.
//
func (e *EXTI) OnGPIO(n int, level bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < 0 || n >= len(e.conns) {
		e.log.Error("line out of range", "line", n, "lines", len(e.conns))
		return
	}
	edge := e.edges.Update(n, level)
	if n >= e.firstDirect {
		if level {
			e.raise(n)
		} else {
			_ = e.pr.Set(e.pr.Value() &^ (1 << uint(n)))
			e.conns[n].Unset()
		}
		return
	}
	if !bitutil.IsSet(e.imr.Value(), n) {
		return
	}
	if edge == gpio.Rising && bitutil.IsSet(e.rtsr.Value(), n) ||
		edge == gpio.Falling && bitutil.IsSet(e.ftsr.Value(), n) {
		e.raise(n)
	}
}

// Connections implements gpio.Source.
//
func (e *EXTI) Connections() gpio.Connections { return e.conns }

// Reset clears all registers and lowers all outputs.
//
func (e *EXTI) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regs.Reset()
	e.edges.Reset()
	e.conns.Unset()
}
