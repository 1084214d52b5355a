// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"github.com/db47h/platsim"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/internal/bitutil"
	"github.com/db47h/platsim/register"
	"github.com/pkg/errors"
)

// Interrupt controller configuration errors.
//
var (
	ErrTooManySources  = errors.New("too many interrupt sources")
	ErrTooManyContexts = errors.New("too many interrupt contexts")
)

// OpenTitan PLIC register map.
//
const (
	plicPriority0       = 0x0
	plicPending0        = 0x1000
	plicEnable0         = 0x2000
	plicThreshold0      = 0x200000
	plicClaim0          = 0x200004
	plicSoftware0       = 0x4000000
	plicEnableStride    = 0x100
	plicContextStride   = 0x1000
	plicSize            = 0x8000000
	plicMaxSources      = 255
	plicMaxContexts     = (plicEnable0 - plicPending0) / plicEnableStride
	plicPriorityBits    = 3
	plicSourcesPerWord  = 32
	plicReservedSources = 1 // source 0 means "no interrupt"
)

type plicSource struct {
	priority uint64
	pending  bool
	active   bool // claimed, not yet completed
}

type plicContext struct {
	threshold uint64
	enabled   []bool
}

// PLIC is an OpenTitan flavored RISC-V platform level interrupt controller.
//
// Input n of the PLIC is interrupt source n. Source 0 is reserved. Inputs are
// level sensitive: a source becomes pending on a rising level and pends again
// on completion if its input is still high.
//
// Connections 0 to contexts-1 are the context interrupt outputs, connections
// contexts to 2*contexts-1 are the per context software interrupt lines.
//
type PLIC struct {
	device
	sources  []plicSource
	contexts []plicContext
	inputs   gpio.EdgeDetector
	conns    gpio.Connections
}

// NewPLIC returns a new PLIC with the given number of interrupt sources,
// including the reserved source 0, and contexts.
//
func NewPLIC(m *platsim.Machine, name string, sources, contexts int) (*PLIC, error) {
	if sources <= plicReservedSources || sources > plicMaxSources {
		return nil, errors.Wrapf(ErrTooManySources, "PLIC %q: %d sources, want 2 to %d", name, sources, plicMaxSources)
	}
	if contexts <= 0 || contexts > plicMaxContexts {
		return nil, errors.Wrapf(ErrTooManyContexts, "PLIC %q: %d contexts, want 1 to %d", name, contexts, plicMaxContexts)
	}
	p := &PLIC{
		sources:  make([]plicSource, sources),
		contexts: make([]plicContext, contexts),
		conns:    gpio.NewConnections(2 * contexts),
	}
	for i := range p.contexts {
		p.contexts[i].enabled = make([]bool, sources)
	}
	p.init(m, name, plicSize, register.DoubleWord, register.ByteToDoubleWord)
	p.defineRegisters()
	return p, nil
}

func (p *PLIC) defineRegisters() {
	n := len(p.sources)
	words := (n + plicSourcesPerWord - 1) / plicSourcesPerWord

	p.regs.DefineMany(plicPriority0, n, 4, 0, func(r *register.Register, i int) {
		r.WithValueField(0, plicPriorityBits, register.ReadWrite, register.Handlers[uint64]{
			Name:     "priority",
			Provider: func(uint64) uint64 { return p.sources[i].priority },
			OnWrite: func(_, v uint64) {
				p.sources[i].priority = v
				p.refresh()
			},
		}).WithReservedBits(plicPriorityBits, 32-plicPriorityBits)
	})

	p.regs.DefineMany(plicPending0, words, 4, 0, func(r *register.Register, k int) {
		r.WithValueField(0, 32, register.Read, register.Handlers[uint64]{
			Name:     "pending",
			Provider: func(uint64) uint64 { return p.pendingWord(k) },
		})
	})

	for c := range p.contexts {
		ctx := &p.contexts[c]
		p.regs.DefineMany(plicEnable0+uint64(c)*plicEnableStride, words, 4, 0, func(r *register.Register, k int) {
			bits := n - k*plicSourcesPerWord
			if bits > plicSourcesPerWord {
				bits = plicSourcesPerWord
			}
			r.WithValueField(0, bits, register.ReadWrite, register.Handlers[uint64]{
				Name:     "enable",
				Provider: func(uint64) uint64 { return bitutil.Bits(enableBits(ctx.enabled, k)) },
				OnWrite: func(_, v uint64) {
					bitutil.SetBits(enableBits(ctx.enabled, k), v)
					ctx.enabled[0] = false
					p.refresh()
				},
			})
			if bits < plicSourcesPerWord {
				r.WithReservedBits(bits, plicSourcesPerWord-bits)
			}
		})

		base := plicThreshold0 + uint64(c)*plicContextStride
		p.regs.DefineRegister(base, 0).
			WithValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{
				Name:     "threshold",
				Provider: func(uint64) uint64 { return ctx.threshold },
				OnWrite: func(_, v uint64) {
					ctx.threshold = v
					p.refresh()
				},
			})
		p.regs.DefineRegister(plicClaim0+uint64(c)*plicContextStride, 0).
			WithValueField(0, 32, register.ReadWrite, register.Handlers[uint64]{
				Name:     "claim",
				Provider: func(uint64) uint64 { return uint64(p.best(c)) },
				OnRead:   func(id, _ uint64) { p.claim(c, int(id)) },
				OnWrite:  func(_, v uint64) { p.complete(c, v) },
			})

		sw := p.conns[len(p.contexts)+c]
		p.regs.DefineRegister(plicSoftware0+uint64(c)*4, 0).
			WithFlag(0, register.ReadWrite, register.Handlers[bool]{
				Name:     "msip",
				Provider: func(bool) bool { return sw.IsSet() },
				OnWrite: func(_, v bool) {
					p.log.Debug("software interrupt", "context", c, "level", v)
					sw.SetLevel(v)
				},
			}).
			WithReservedBits(1, 31)
	}
}

func enableBits(enabled []bool, k int) []bool {
	lo := k * plicSourcesPerWord
	return enabled[lo:min(lo+plicSourcesPerWord, len(enabled))]
}

func (p *PLIC) pendingWord(k int) uint64 {
	var v uint64
	for j := 0; j < plicSourcesPerWord; j++ {
		if id := k*plicSourcesPerWord + j; id < len(p.sources) && p.sources[id].pending {
			v |= 1 << uint(j)
		}
	}
	return v
}

// best returns the highest priority pending source enabled in context c whose
// priority exceeds the context threshold, or 0. Ties go to the lowest id.
//
func (p *PLIC) best(c int) int {
	ctx := &p.contexts[c]
	id, prio := 0, ctx.threshold
	for i := plicReservedSources; i < len(p.sources); i++ {
		s := &p.sources[i]
		if s.pending && !s.active && ctx.enabled[i] && s.priority > prio {
			id, prio = i, s.priority
		}
	}
	return id
}

func (p *PLIC) refresh() {
	for c := range p.contexts {
		p.conns[c].SetLevel(p.best(c) != 0)
	}
}

// claim marks source id, as returned by best, active.
//
func (p *PLIC) claim(c, id int) {
	if id == 0 {
		p.log.Debug("claim with no pending interrupt", "context", c)
		return
	}
	s := &p.sources[id]
	s.pending = false
	s.active = true
	p.log.Debug("claimed", "context", c, "source", id)
	p.refresh()
}

func (p *PLIC) complete(c int, v uint64) {
	if v < plicReservedSources || v >= uint64(len(p.sources)) {
		p.log.Warn("completing invalid source", "context", c, "source", v)
		return
	}
	s := &p.sources[v]
	if !s.active {
		p.log.Warn("completing inactive source", "context", c, "source", v)
		return
	}
	s.active = false
	if p.inputs.Level(int(v)) {
		s.pending = true
	}
	p.log.Debug("completed", "context", c, "source", v)
	p.refresh()
}

// OnGPIO implements gpio.Receiver. Input n drives interrupt source n.
//
func (p *PLIC) OnGPIO(n int, level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < plicReservedSources || n >= len(p.sources) {
		p.log.Error("interrupt source out of range", "source", n, "level", level)
		return
	}
	if p.inputs.Update(n, level) == gpio.Rising && !p.sources[n].active {
		p.sources[n].pending = true
		p.refresh()
	}
}

// Connections implements gpio.Source.
//
func (p *PLIC) Connections() gpio.Connections { return p.conns }

// Reset clears priorities, enables, thresholds and pending interrupts. Input
// levels are kept.
//
func (p *PLIC) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.sources {
		p.sources[i] = plicSource{}
	}
	for i := range p.contexts {
		ctx := &p.contexts[i]
		ctx.threshold = 0
		for j := range ctx.enabled {
			ctx.enabled[j] = false
		}
	}
	p.regs.Reset()
	p.conns.Unset()
}
