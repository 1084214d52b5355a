// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"math/bits"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/vclock"
)

// STM32L0 LPTIM register offsets.
//
const (
	lptimISR  = 0x00
	lptimICR  = 0x04
	lptimIER  = 0x08
	lptimCFGR = 0x0C
	lptimCR   = 0x10
	lptimCMP  = 0x14
	lptimARR  = 0x18
	lptimCNT  = 0x1C
	lptimSize = 0x400
)

// LPTimer is an STM32L0 low power timer. External triggers, waveform
// generation and encoder mode are not implemented.
//
type LPTimer struct {
	device
	timer *vclock.Timer
	irq   *gpio.Line

	arrm, cmpok, arrok       *register.Flag // status
	arrmie, cmpokie, arrokie *register.Flag // interrupt enables
}

// NewLPTimer returns a new low power timer counting at frequency.
//
func NewLPTimer(m *platsim.Machine, name string, frequency uint64) *LPTimer {
	t := &LPTimer{
		irq: new(gpio.Line),
		timer: vclock.NewTimer(m.Clock(), vclock.TimerConfig{
			Name:      name,
			Frequency: frequency,
			Limit:     1,
			Direction: vclock.Ascending,
		}),
	}
	t.init(m, name, lptimSize, register.DoubleWord, register.ByteToDoubleWord|register.WordToDoubleWord)
	t.timer.OnLimitReached(t.limitReached)

	isr := t.regs.DefineRegister(lptimISR, 0).WithTaggedFlag("CMPM", 0)
	t.arrm = isr.DefineFlag(1, register.Read, register.Handlers[bool]{Name: "ARRM"})
	isr.WithTaggedFlag("EXTTRIG", 2)
	t.cmpok = isr.DefineFlag(3, register.Read, register.Handlers[bool]{Name: "CMPOK"})
	t.arrok = isr.DefineFlag(4, register.Read, register.Handlers[bool]{Name: "ARROK"})
	isr.WithTaggedFlag("UP", 5).
		WithTaggedFlag("DOWN", 6).
		WithReservedBits(7, 25)

	clearOnWrite := func(f *register.Flag, name string) register.Handlers[bool] {
		return register.Handlers[bool]{
			Name: name,
			OnWrite: func(_, v bool) {
				if v {
					f.Set(false)
					t.updateInterrupts()
				}
			},
		}
	}
	t.regs.DefineRegister(lptimICR, 0).
		WithTaggedFlag("CMPMCF", 0).
		WithFlag(1, register.WriteOneToClear, clearOnWrite(t.arrm, "ARRMCF")).
		WithTaggedFlag("EXTTRIGCF", 2).
		WithFlag(3, register.WriteOneToClear, clearOnWrite(t.cmpok, "CMPOKCF")).
		WithFlag(4, register.WriteOneToClear, clearOnWrite(t.arrok, "ARROKCF")).
		WithTaggedFlag("UPCF", 5).
		WithTaggedFlag("DOWNCF", 6).
		WithReservedBits(7, 25)

	ier := t.regs.DefineRegister(lptimIER, 0).WithTaggedFlag("CMPMIE", 0)
	t.arrmie = ier.DefineFlag(1, register.ReadWrite, register.Handlers[bool]{Name: "ARRMIE"})
	ier.WithTaggedFlag("EXTTRIGIE", 2)
	t.cmpokie = ier.DefineFlag(3, register.ReadWrite, register.Handlers[bool]{Name: "CMPOKIE"})
	t.arrokie = ier.DefineFlag(4, register.ReadWrite, register.Handlers[bool]{Name: "ARROKIE"})
	ier.WithFlag(5, register.ReadWrite, register.Handlers[bool]{Name: "UPIE"}).
		WithFlag(6, register.ReadWrite, register.Handlers[bool]{Name: "DOWNIE"}).
		WithReservedBits(7, 25).
		WithChangeCallback(func(_, _ uint64) { t.updateInterrupts() })

	t.regs.DefineRegister(lptimCFGR, 0).
		WithTaggedFlag("CKSEL", 0).
		WithTag("CKPOL", 1, 2).
		WithTag("CKFLT", 3, 2).
		WithReservedBits(5, 1).
		WithTag("TRGFLT", 6, 2).
		WithReservedBits(8, 1).
		WithValueField(9, 3, register.ReadWrite, register.Handlers[uint64]{
			Name:     "PRESC",
			Provider: func(uint64) uint64 { return uint64(bits.TrailingZeros64(t.timer.Divider())) },
			OnWrite:  func(_, v uint64) { t.timer.SetDivider(1 << v) },
		}).
		WithReservedBits(12, 1).
		WithTag("TRIGSEL", 13, 3).
		WithReservedBits(16, 1).
		WithTag("TRIGEN", 17, 2).
		WithTaggedFlag("TIMOUT", 19).
		WithTaggedFlag("WAVE", 20).
		WithTaggedFlag("WAVPOL", 21).
		WithTaggedFlag("PRELOAD", 22).
		WithTaggedFlag("COUNTMODE", 23).
		WithTaggedFlag("ENC", 24).
		WithReservedBits(25, 7)

	cr := t.regs.DefineRegister(lptimCR, 0)
	enable := cr.DefineFlag(0, register.ReadWrite, register.Handlers[bool]{Name: "ENABLE"})
	single := cr.DefineFlag(1, register.ReadWrite, register.Handlers[bool]{Name: "SNGSTRT"})
	continuous := cr.DefineFlag(2, register.ReadWrite, register.Handlers[bool]{Name: "CNTSTRT"})
	cr.WithReservedBits(3, 29).
		WithWriteCallback(func(_, _ uint64) {
			if !enable.Value() {
				t.log.Debug("disabling timer")
				t.timer.SetEnabled(false)
				return
			}
			switch {
			case single.Value() && continuous.Value():
				t.log.Warn("both single and continuous modes selected, ignoring")
				single.Set(false)
				continuous.Set(false)
			case single.Value():
				t.log.Debug("enabling timer in single shot mode")
				t.timer.SetMode(vclock.OneShot)
				t.timer.SetEnabled(true)
			case continuous.Value():
				t.log.Debug("enabling timer in continuous mode")
				t.timer.SetMode(vclock.Periodic)
				t.timer.SetEnabled(true)
			}
		})

	t.regs.DefineRegister(lptimCMP, 0).
		WithValueField(0, 16, register.ReadWrite, register.Handlers[uint64]{
			Name:     "CMP",
			Provider: func(uint64) uint64 { return t.timer.Limit() },
			OnWrite: func(_, v uint64) {
				t.timer.SetLimit(v)
				t.timer.SetValue(0)
				t.cmpok.Set(true)
				t.updateInterrupts()
			},
		}).
		WithReservedBits(16, 16)

	t.regs.DefineRegister(lptimARR, 1).
		WithValueField(0, 16, register.ReadWrite, register.Handlers[uint64]{
			Name:     "ARR",
			Provider: func(uint64) uint64 { return t.timer.Limit() },
			OnWrite: func(_, v uint64) {
				t.timer.SetLimit(v)
				t.arrok.Set(true)
				t.updateInterrupts()
			},
		}).
		WithReservedBits(16, 16)

	t.regs.DefineRegister(lptimCNT, 0).
		WithValueField(0, 16, register.Read, register.Handlers[uint64]{
			Name:     "CNT",
			Provider: func(uint64) uint64 { return t.timer.Value() & 0xFFFF },
		}).
		WithReservedBits(16, 16)
	return t
}

func (t *LPTimer) limitReached() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.Debug("limit reached")
	t.arrm.Set(true)
	t.updateInterrupts()
}

func (t *LPTimer) updateInterrupts() {
	level := t.arrmie.Value() && t.arrm.Value() ||
		t.arrokie.Value() && t.arrok.Value() ||
		t.cmpokie.Value() && t.cmpok.Value()
	t.irq.SetLevel(level)
}

// IRQ returns the timer interrupt line.
//
func (t *LPTimer) IRQ() *gpio.Line { return t.irq }

// Connections implements gpio.Source. The interrupt line is number 0.
//
func (t *LPTimer) Connections() gpio.Connections { return gpio.Connections{0: t.irq} }

// Reset stops the timer and restores the register reset values.
//
func (t *LPTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Reset()
	t.regs.Reset()
	t.irq.Unset()
}
