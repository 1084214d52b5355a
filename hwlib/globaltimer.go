// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"github.com/db47h/platsim"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/vclock"
)

// GlobalTimer is the ARM Cortex-A9 MPCore global timer: a 64 bits up counter
// with a comparator and auto increment.
//
//	0x00 counter, low word
//	0x04 counter, high word
//	0x08 control: timer enable, comparator enable, IRQ enable, auto increment
//	0x0C interrupt status, cleared on read
//	0x10 comparator, low word
//	0x14 comparator, high word
//	0x18 auto increment
//
// The timer is not meant to be shared between cores. Writes to the auto
// increment register from more than one core are logged as errors.
//
type GlobalTimer struct {
	device
	cmp *vclock.Comparator
	irq *gpio.Line

	cmpEnable, irqEnable, autoIncEnable *register.Flag
	autoInc                             *register.ValueField

	lastCPU    int
	lastCPUSet bool
}

const globalTimerSize = 0x100

// NewGlobalTimer returns a new global timer counting at frequency.
//
func NewGlobalTimer(m *platsim.Machine, name string, frequency uint64) *GlobalTimer {
	g := &GlobalTimer{
		irq: new(gpio.Line),
		cmp: vclock.NewComparator(m.Clock(), vclock.ComparatorConfig{
			Name:      name,
			Frequency: frequency,
		}),
	}
	g.init(m, name, globalTimerSize, register.DoubleWord, 0)
	g.cmp.OnCompare(g.compareReached)

	half := func(off uint64, name string, high bool, get func() uint64, set func(bool, uint32)) {
		g.regs.DefineRegister(off, 0).WithValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{
			Name: name,
			Provider: func(uint64) uint64 {
				if high {
					return get() >> 32
				}
				return get() & 0xFFFFFFFF
			},
			OnWrite: func(_, v uint64) { set(high, uint32(v)) },
		})
	}
	half(0x00, "counter low", false, g.cmp.Value, g.cmp.SetValueHalf)
	half(0x04, "counter high", true, g.cmp.Value, g.cmp.SetValueHalf)
	half(0x10, "comparator low", false, g.cmp.Compare, g.cmp.SetCompareHalf)
	half(0x14, "comparator high", true, g.cmp.Compare, g.cmp.SetCompareHalf)

	ctl := g.regs.DefineRegister(0x08, 0)
	ctl.WithFlag(0, register.ReadWrite, register.Handlers[bool]{
		Name:     "timer enable",
		Provider: func(bool) bool { return g.cmp.Enabled() },
		OnWrite:  func(_, v bool) { g.cmp.SetEnabled(v) },
	})
	g.cmpEnable = ctl.DefineFlag(1, register.ReadWrite, register.Handlers[bool]{Name: "comparator enable"})
	g.irqEnable = ctl.DefineFlag(2, register.ReadWrite, register.Handlers[bool]{Name: "IRQ enable"})
	g.autoIncEnable = ctl.DefineFlag(3, register.ReadWrite, register.Handlers[bool]{Name: "auto increment"})
	ctl.WithTag("prescaler", 8, 8)

	g.regs.DefineRegister(0x0C, 0).
		WithFlag(0, register.Read, register.Handlers[bool]{
			Name:     "event flag",
			Provider: func(bool) bool { return g.irq.IsSet() },
			OnRead: func(old, _ bool) {
				if old {
					g.irq.Unset()
				}
			},
		})

	g.autoInc = g.regs.DefineRegister(0x18, 0).DefineValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{
		Name:    "auto increment",
		OnWrite: func(_, _ uint64) { g.checkCPU() },
	})
	return g
}

func (g *GlobalTimer) checkCPU() {
	from := g.access.Initiator
	if from == nil {
		return
	}
	if g.lastCPUSet && g.lastCPU != from.ID() {
		g.log.Error("global timer accessed from several cores, multicore operation is not supported",
			"cpu", from.ID(), "previous", g.lastCPU)
	}
	g.lastCPU, g.lastCPUSet = from.ID(), true
}

func (g *GlobalTimer) compareReached() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cmpEnable.Value() {
		return
	}
	if g.autoIncEnable.Value() {
		g.cmp.SetCompare(g.cmp.Compare() + g.autoInc.Value())
	}
	if g.irqEnable.Value() {
		g.irq.Set()
	}
}

// IRQ returns the timer interrupt line.
//
func (g *GlobalTimer) IRQ() *gpio.Line { return g.irq }

// Connections implements gpio.Source. The interrupt line is number 0.
//
func (g *GlobalTimer) Connections() gpio.Connections { return gpio.Connections{0: g.irq} }

// Reset stops the timer and clears all registers.
//
func (g *GlobalTimer) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cmp.Reset()
	g.regs.Reset()
	g.lastCPUSet = false
	g.irq.Unset()
}
