// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package cpu implements CPU execution contexts.
//
// A Core holds the architectural state shared with the system (program
// counter, general registers, halted flag, pending interrupts) and drives an
// external instruction execution Engine within the virtual time granted by
// the machine scheduler.
//
package cpu

import (
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/sysbus"
	"github.com/pkg/errors"
)

// ErrNotSingleStep is returned by Step when the core is not in SingleStep mode.
//
var ErrNotSingleStep = errors.New("core is not in single-step mode")

// ExecutionMode controls how a core consumes granted time.
//
type ExecutionMode uint32

// Execution modes.
//
const (
	// Normal cores execute freely.
	Normal ExecutionMode = iota
	// SingleStep cores only execute instructions requested with Step.
	SingleStep
	// Debug cores execute one instruction at a time and call the debug hook
	// after each one.
	Debug
)

func (m ExecutionMode) String() string {
	switch m {
	case Normal:
		return "Normal"
	case SingleStep:
		return "SingleStep"
	case Debug:
		return "Debug"
	}
	return "ExecutionMode(" + strconv.Itoa(int(m)) + ")"
}

// An Engine executes instructions for a Core.
//
// Execute runs at most n instructions and returns how many were executed. It
// must check ReturnRequested and IsHalted at every instruction boundary and
// return early when either is true. Memory accesses go through the Core's
// Load, Store and Fetch methods.
//
// Exception delivers an exception code raised by the system (a peripheral or
// a translation fault). It is called between two calls to Execute.
//
type Engine interface {
	Execute(c *Core, n uint64) (uint64, error)
	Exception(c *Core, code uint32)
}

// Config is the configuration of a Core.
//
type Config struct {
	Name  string
	Model string
	// Number of general purpose registers.
	Registers int
	// Program counter value on reset.
	ResetPC uint64
	// Instructions executed per clock tick. 0 is the same as 1.
	InstructionsPerTick uint64
	Mode                ExecutionMode
	// Address translation unit, if any.
	Translator Translator
	Logger     *slog.Logger
}

// A Core is a CPU execution context.
//
type Core struct {
	id     int
	cfg    Config
	bus    *sysbus.Bus
	engine Engine
	log    *slog.Logger

	pc        atomic.Uint64
	halted    atomic.Bool
	mode      atomic.Uint32
	priv      atomic.Uint32
	returnReq atomic.Bool
	executed  atomic.Uint64
	irqs      atomic.Uint64

	mu      sync.Mutex
	regs    []uint64
	pending []uint32 // exceptions
	hook    func(*Core) bool

	// owned by the core goroutine
	local uint64
	frac  uint64

	stepMu   sync.Mutex
	steps    uint64
	stepDone chan struct{}
}

// New returns a core with the given id, attached to bus b and executing
// instructions with e.
//
func New(id int, b *sysbus.Bus, e Engine, cfg Config) *Core {
	if cfg.InstructionsPerTick == 0 {
		cfg.InstructionsPerTick = 1
	}
	if cfg.Name == "" {
		cfg.Name = "cpu" + strconv.Itoa(id)
	}
	c := &Core{id: id, cfg: cfg, bus: b, engine: e, log: cfg.Logger}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.log = c.log.With("cpu", cfg.Name)
	c.mode.Store(uint32(cfg.Mode))
	c.priv.Store(uint32(Machine))
	c.regs = make([]uint64, cfg.Registers)
	c.pc.Store(cfg.ResetPC)
	return c
}

// ID returns the core id.
//
func (c *Core) ID() int { return c.id }

// Name returns the core name.
//
func (c *Core) Name() string { return c.cfg.Name }

// Model returns the core model name.
//
func (c *Core) Model() string { return c.cfg.Model }

// Bus returns the system bus the core is attached to.
//
func (c *Core) Bus() *sysbus.Bus { return c.bus }

// PC returns the program counter.
//
func (c *Core) PC() uint64 { return c.pc.Load() }

// SetPC sets the program counter.
//
func (c *Core) SetPC(pc uint64) { c.pc.Store(pc) }

// Reg returns the value of general register i.
//
func (c *Core) Reg(i int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[i]
}

// SetReg sets the value of general register i.
//
func (c *Core) SetReg(i int, v uint64) {
	c.mu.Lock()
	c.regs[i] = v
	c.mu.Unlock()
}

// IsHalted reports whether the core is waiting for an interrupt.
//
func (c *Core) IsHalted() bool { return c.halted.Load() }

// Halt stops instruction execution until an interrupt input rises.
//
func (c *Core) Halt() { c.halted.Store(true) }

// Resume clears the halted flag.
//
func (c *Core) Resume() { c.halted.Store(false) }

// Mode returns the execution mode.
//
func (c *Core) Mode() ExecutionMode { return ExecutionMode(c.mode.Load()) }

// SetMode sets the execution mode. It takes effect at the next instruction
// boundary.
//
func (c *Core) SetMode(m ExecutionMode) {
	c.mode.Store(uint32(m))
	c.RequestReturn()
}

// Privilege returns the current privilege level.
//
func (c *Core) Privilege() Privilege { return Privilege(c.priv.Load()) }

// SetPrivilege sets the current privilege level.
//
func (c *Core) SetPrivilege(p Privilege) { c.priv.Store(uint32(p)) }

// ExecutedInstructions returns the number of instructions executed since the
// last reset.
//
func (c *Core) ExecutedInstructions() uint64 { return c.executed.Load() }

// RequestReturn asks the engine to return at the next instruction boundary.
//
func (c *Core) RequestReturn() { c.returnReq.Store(true) }

// ReturnRequested reports whether a return has been requested.
//
func (c *Core) ReturnRequested() bool { return c.returnReq.Load() }

// SetDebugHook sets the function called after each instruction in Debug
// mode. If it returns false the core switches to SingleStep mode.
//
func (c *Core) SetDebugHook(fn func(*Core) bool) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// RaiseException queues an exception for delivery to the engine at the next
// instruction boundary.
//
func (c *Core) RaiseException(code uint32) {
	c.mu.Lock()
	c.pending = append(c.pending, code)
	c.mu.Unlock()
	c.RequestReturn()
}

func (c *Core) deliverExceptions() {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, code := range p {
		c.engine.Exception(c, code)
	}
}

// OnGPIO implements gpio.Receiver. Inputs are interrupt lines; a rising input
// wakes up a halted core.
//
func (c *Core) OnGPIO(n int, level bool) {
	if n < 0 || n >= 64 {
		c.log.Error("interrupt line out of range", "line", n)
		return
	}
	for {
		old := c.irqs.Load()
		nv := old &^ (1 << uint(n))
		if level {
			nv |= 1 << uint(n)
		}
		if c.irqs.CompareAndSwap(old, nv) {
			break
		}
	}
	if level {
		c.halted.Store(false)
	}
}

// Interrupts returns the state of the interrupt inputs. Bit n is set when
// input n is high.
//
func (c *Core) Interrupts() uint64 { return c.irqs.Load() }

// Reset restores the reset state of the core.
//
func (c *Core) Reset() {
	c.mu.Lock()
	for i := range c.regs {
		c.regs[i] = 0
	}
	c.pending = nil
	c.mu.Unlock()
	c.pc.Store(c.cfg.ResetPC)
	c.halted.Store(false)
	c.executed.Store(0)
	c.priv.Store(uint32(Machine))
}

// Translate translates a virtual address with the core's translation unit.
// Without a translation unit, addresses are returned unchanged.
//
func (c *Core) Translate(addr uint64, k sysbus.Kind) (uint64, error) {
	if c.cfg.Translator == nil {
		return addr, nil
	}
	return c.cfg.Translator.Translate(addr, k, c.Privilege())
}

func (c *Core) access(addr uint64, w register.Width, k sysbus.Kind) (uint64, bool) {
	pa, err := c.Translate(addr, k)
	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			c.log.Debug("translation fault", "address", hex(addr), "kind", k.String(), "code", f.Code)
			c.RaiseException(f.Code)
		} else {
			c.log.Error("translation failed", "address", hex(addr), "error", err)
		}
		return 0, false
	}
	return pa, true
}

// Load reads memory on behalf of the engine. On a translation fault, an
// exception is raised and ok is false.
//
func (c *Core) Load(addr uint64, w register.Width) (v uint64, ok bool) {
	pa, ok := c.access(addr, w, sysbus.Read)
	if !ok {
		return 0, false
	}
	return c.bus.Read(c, pa, w, sysbus.Read), true
}

// Fetch reads an instruction on behalf of the engine.
//
func (c *Core) Fetch(addr uint64, w register.Width) (v uint64, ok bool) {
	pa, ok := c.access(addr, w, sysbus.InstructionFetch)
	if !ok {
		return 0, false
	}
	return c.bus.Read(c, pa, w, sysbus.InstructionFetch), true
}

// Store writes memory on behalf of the engine.
//
func (c *Core) Store(addr uint64, w register.Width, v uint64) bool {
	pa, ok := c.access(addr, w, sysbus.Write)
	if !ok {
		return false
	}
	c.bus.Write(c, pa, w, v)
	return true
}

func hex(v uint64) string { return "0x" + strconv.FormatUint(v, 16) }
