// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"github.com/db47h/platsim"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/sysbus"
	"github.com/db47h/platsim/vclock"
)

type max32650Mode uint8

const (
	max32650OneShot max32650Mode = iota
	max32650Continuous
	max32650Counter
	max32650PWM
	max32650Capture
	max32650Compare
	max32650Gated
	max32650CaptureCompare
)

const (
	max32650Size     = 0x400
	max32650CNReset  = 0x1000
	max32650MaxLimit = 0xFFFFFFFF
)

// MAX32650Timer is a Maxim MAX32650 32 bits timer. Only the one-shot and
// continuous modes are supported. The timer runs at half the system clock.
//
//	0x00 CNT count
//	0x04 CMP compare
//	0x0C INT interrupt flag, cleared by any write
//	0x10 CN  control
//
type MAX32650Timer struct {
	device
	bus       *sysbus.Bus
	timer     *vclock.Timer
	irq       *gpio.Line
	pending   *register.Flag
	prescaler uint64
}

// NewMAX32650Timer returns a new timer clocked by a system clock of frequency
// sysClk.
//
func NewMAX32650Timer(m *platsim.Machine, name string, sysClk uint64) *MAX32650Timer {
	t := &MAX32650Timer{
		bus: m.Bus(),
		irq: new(gpio.Line),
		timer: vclock.NewTimer(m.Clock(), vclock.TimerConfig{
			Name:      name,
			Frequency: sysClk / 2,
			Limit:     max32650MaxLimit,
			Direction: vclock.Ascending,
			Mode:      vclock.OneShot,
		}),
	}
	t.init(m, name, max32650Size, register.DoubleWord, 0)
	t.timer.OnLimitReached(t.compare)

	t.regs.DefineRegister(0x00, 0).WithValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{
		Name:     "CNT.count",
		Provider: func(uint64) uint64 { return t.timer.Value() & max32650MaxLimit },
		OnWrite:  func(_, v uint64) { t.timer.SetValue(v) },
	})
	t.regs.DefineRegister(0x04, 0).WithValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{
		Name:     "CMP.compare",
		Provider: func(uint64) uint64 { return t.timer.Limit() & max32650MaxLimit },
		OnWrite: func(_, v uint64) {
			t.timer.SetLimit(v)
			t.timer.SetValue(1)
		},
	})
	intr := t.regs.DefineRegister(0x0C, 0)
	t.pending = intr.DefineFlag(0, register.ReadWrite, register.Handlers[bool]{
		Name: "INT.irq",
		OnWrite: func(_, _ bool) {
			t.pending.Set(false)
			t.updateInterrupts()
		},
	})
	intr.WithReservedBits(1, 31)

	cn := t.regs.DefineRegister(0x10, max32650CNReset)
	register.WithEnumField(cn, 0, 3, register.ReadWrite, register.Handlers[max32650Mode]{
		Name: "CN.tmode",
		OnWrite: func(_, mode max32650Mode) {
			switch mode {
			case max32650OneShot:
				t.timer.SetMode(vclock.OneShot)
			case max32650Continuous:
				t.timer.SetMode(vclock.Periodic)
			default:
				t.log.Warn("unsupported timer mode, ignoring", "mode", mode)
			}
		},
	})
	cn.WithValueField(3, 3, register.ReadWrite, register.Handlers[uint64]{
		Name: "CN.pres",
		OnWrite: func(_, v uint64) {
			t.prescaler = t.prescaler&8 | v
			t.timer.SetDivider(1 << t.prescaler)
		},
	}).
		WithTaggedFlag("CN.tpol", 6).
		WithFlag(7, register.ReadWrite, register.Handlers[bool]{
			Name:     "CN.ten",
			Provider: func(bool) bool { return t.timer.Enabled() },
			OnWrite: func(_, v bool) {
				if v != t.timer.Enabled() {
					t.timer.SetEnabled(v)
					t.timer.SetValue(1)
				}
			},
		}).
		WithFlag(8, register.ReadWrite, register.Handlers[bool]{
			Name: "CN.pres3",
			OnWrite: func(_, v bool) {
				t.prescaler &^= 8
				if v {
					t.prescaler |= 8
				}
				t.timer.SetDivider(1 << t.prescaler)
			},
		}).
		WithTaggedFlag("CN.pwmsync", 9).
		WithTaggedFlag("CN.nolhpol", 10).
		WithTaggedFlag("CN.nollpol", 11).
		WithTaggedFlag("CN.pwmckbd", 12).
		WithReservedBits(13, 19).
		WithChangeCallback(func(_, _ uint64) { t.requestReturn() })
	return t
}

// SetSysClk changes the system clock frequency.
//
func (t *MAX32650Timer) SetSysClk(f uint64) { t.timer.SetFrequency(f / 2) }

// requestReturn makes the CPUs pick up the new timer configuration at the
// next grant.
//
func (t *MAX32650Timer) requestReturn() {
	if t.timer.Enabled() {
		t.bus.RequestReturnAll()
	}
}

func (t *MAX32650Timer) compare() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.SetValue(1)
	t.pending.Set(true)
	t.updateInterrupts()
}

func (t *MAX32650Timer) updateInterrupts() { t.irq.SetLevel(t.pending.Value()) }

// IRQ returns the timer interrupt line.
//
func (t *MAX32650Timer) IRQ() *gpio.Line { return t.irq }

// Connections implements gpio.Source. The interrupt line is number 0.
//
func (t *MAX32650Timer) Connections() gpio.Connections { return gpio.Connections{0: t.irq} }

// Reset stops the timer and restores the register reset values.
//
func (t *MAX32650Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Reset()
	t.regs.Reset()
	t.prescaler = 0
	t.irq.Unset()
}
