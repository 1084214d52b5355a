// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package sysbus implements the system bus: it dispatches CPU and scripted
// memory accesses to the peripheral registered at the target address.
//
// The bus also keeps the registry of CPUs attached to the machine. Every
// access carries its initiator, so peripherals always know which CPU is
// accessing them.
//
package sysbus

import (
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/db47h/platsim/register"
	"github.com/pkg/errors"
	"github.com/rdleal/intervalst/interval"
)

// Registration errors.
//
var (
	ErrOverlap    = errors.New("address range overlaps an existing registration")
	ErrEmptyRange = errors.New("empty address range")
	ErrSealed     = errors.New("bus is sealed")
	ErrNotFound   = errors.New("no such registration")
)

// Kind is the kind of a bus access.
//
type Kind uint8

// Access kinds.
//
const (
	Read Kind = iota
	Write
	InstructionFetch
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case InstructionFetch:
		return "InstructionFetch"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// An Initiator is the origin of a bus access, usually a CPU.
//
type Initiator interface {
	ID() int
	Name() string
	PC() uint64
	// RaiseException delivers an architectural exception to the CPU.
	RaiseException(code uint32)
	// RequestReturn asks the CPU to return control to the scheduler at the
	// next instruction boundary. It never blocks.
	RequestReturn()
}

// Access describes a bus access as seen by a peripheral.
//
type Access struct {
	Offset    uint64 // relative to the registration base address
	Width     register.Width
	Kind      Kind
	Initiator Initiator // nil for scripted accesses
}

// A Peripheral is a memory-mapped device.
//
// Peripherals accessed by several CPUs must serialize their own state.
//
type Peripheral interface {
	// Size returns the size of the peripheral address window.
	Size() uint64
	Reset()
	Read(a Access) uint64
	Write(a Access, value uint64)
}

// Range is an address range. A zero Size means the peripheral Size.
//
type Range struct {
	Base uint64
	Size uint64
}

// Last returns the last address in the range.
//
func (r Range) Last() uint64 { return r.Base + r.Size - 1 }

// Contains reports whether addr is within r.
//
func (r Range) Contains(addr uint64) bool { return addr >= r.Base && addr-r.Base < r.Size }

// A Registration binds a peripheral to an address range.
//
type Registration struct {
	Name string
	Range
	Peripheral Peripheral
	logWrites  atomic.Bool
}

// Bus dispatches accesses to registered peripherals. Registrations are
// kept in an interval tree; the routing table is read-mostly and frozen by
// Seal.
//
type Bus struct {
	mu       sync.RWMutex
	tree     *interval.SearchTree[*Registration, uint64]
	regs     []*Registration
	sealed   atomic.Pointer[interval.SearchTree[*Registration, uint64]] // frozen tree, set by Seal
	unmapped uint64
	log      *slog.Logger

	cpuMu sync.RWMutex
	cpus  []Initiator
}

// An Option configures a Bus.
//
type Option func(*Bus)

// WithLogger sets the logger used to report unmapped accesses.
//
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithUnmappedValue sets the value returned by reads of unmapped addresses.
// The default is 0.
//
func WithUnmappedValue(v uint64) Option {
	return func(b *Bus) { b.unmapped = v }
}

func cmpAddr(x, y uint64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// New returns an empty bus.
//
func New(opts ...Option) *Bus {
	b := &Bus{
		tree: interval.NewSearchTreeWithOptions[*Registration](cmpAddr, interval.TreeWithIntervalPoint()),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b
}

// Logger returns the bus logger.
//
func (b *Bus) Logger() *slog.Logger { return b.log }

// Register maps p at the given range. It fails if the range is empty, wraps
// around the address space, or overlaps an existing registration.
//
func (b *Bus) Register(p Peripheral, name string, r Range) error {
	if r.Size == 0 {
		r.Size = p.Size()
	}
	if r.Size == 0 {
		return errors.Wrapf(ErrEmptyRange, "%s at %#x", name, r.Base)
	}
	if r.Last() < r.Base {
		return errors.Errorf("%s: range %#x+%#x wraps around the address space", name, r.Base, r.Size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed.Load() != nil {
		return errors.Wrapf(ErrSealed, "register %s", name)
	}
	if prev, ok := b.tree.AnyIntersection(r.Base, r.Last()); ok {
		return errors.Wrapf(ErrOverlap, "%s [%#x, %#x] and %s [%#x, %#x]",
			name, r.Base, r.Last(), prev.Name, prev.Base, prev.Last())
	}
	reg := &Registration{Name: name, Range: r, Peripheral: p}
	if err := b.tree.Insert(r.Base, r.Last(), reg); err != nil {
		return errors.Wrapf(err, "register %s", name)
	}
	b.regs = append(b.regs, reg)
	return nil
}

// Seal freezes the routing table. Later calls to Register fail and lookups no
// longer take the bus lock.
//
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed.Store(b.tree)
	b.mu.Unlock()
}

// Sealed reports whether Seal has been called.
//
func (b *Bus) Sealed() bool { return b.sealed.Load() != nil }

// Lookup returns the registration containing addr.
//
func (b *Bus) Lookup(addr uint64) (*Registration, bool) {
	if t := b.sealed.Load(); t != nil {
		return t.AnyIntersection(addr, addr)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.AnyIntersection(addr, addr)
}

// Find returns the registration with the given name.
//
func (b *Bus) Find(name string) (*Registration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.regs {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Registrations returns all registrations sorted by base address.
//
func (b *Bus) Registrations() []*Registration {
	b.mu.RLock()
	rs := append([]*Registration(nil), b.regs...)
	b.mu.RUnlock()
	sort.Slice(rs, func(i, j int) bool { return rs[i].Base < rs[j].Base })
	return rs
}

// LogWrites enables or disables logging of every write to the named
// registration, along with the initiator name and program counter.
//
func (b *Bus) LogWrites(name string, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.regs {
		if r.Name == name {
			r.logWrites.Store(on)
			return nil
		}
	}
	return errors.Wrap(ErrNotFound, name)
}

// Reset resets all peripherals in registration order.
//
func (b *Bus) Reset() {
	b.mu.RLock()
	rs := append([]*Registration(nil), b.regs...)
	b.mu.RUnlock()
	for _, r := range rs {
		r.Peripheral.Reset()
	}
}

func (b *Bus) route(addr uint64, w register.Width) (*Registration, bool) {
	r, ok := b.Lookup(addr)
	if !ok {
		return nil, false
	}
	if addr-r.Base+w.Bytes() > r.Size {
		return nil, false
	}
	return r, true
}

func hex(v uint64) string { return "0x" + strconv.FormatUint(v, 16) }

func initiatorAttrs(from Initiator) []any {
	if from == nil {
		return []any{"initiator", "none"}
	}
	return []any{"initiator", from.Name(), "pc", hex(from.PC())}
}

// Read performs a read access of width w at addr on behalf of from, which may
// be nil. Unmapped reads are logged and return the unmapped value.
//
func (b *Bus) Read(from Initiator, addr uint64, w register.Width, k Kind) uint64 {
	r, ok := b.route(addr, w)
	if !ok {
		b.log.Warn("unmapped read", append([]any{"address", hex(addr), "width", w.String(), "kind", k.String()}, initiatorAttrs(from)...)...)
		return b.unmapped & w.Mask()
	}
	return r.Peripheral.Read(Access{Offset: addr - r.Base, Width: w, Kind: k, Initiator: from}) & w.Mask()
}

// Write performs a write access of width w at addr on behalf of from, which
// may be nil. Unmapped writes are logged and dropped.
//
func (b *Bus) Write(from Initiator, addr uint64, w register.Width, v uint64) {
	v &= w.Mask()
	r, ok := b.route(addr, w)
	if !ok {
		b.log.Warn("unmapped write", append([]any{"address", hex(addr), "width", w.String(), "value", hex(v)}, initiatorAttrs(from)...)...)
		return
	}
	off := addr - r.Base
	if r.logWrites.Load() {
		b.log.Info("write", append([]any{"peripheral", r.Name, "offset", hex(off), "width", w.String(), "value", hex(v)}, initiatorAttrs(from)...)...)
	}
	r.Peripheral.Write(Access{Offset: off, Width: w, Kind: Write, Initiator: from}, v)
}

// Read8 reads a byte at addr without an initiator.
//
func (b *Bus) Read8(addr uint64) uint8 { return uint8(b.Read(nil, addr, register.Byte, Read)) }

// Read16 reads a 16 bits word at addr without an initiator.
//
func (b *Bus) Read16(addr uint64) uint16 { return uint16(b.Read(nil, addr, register.Word, Read)) }

// Read32 reads a 32 bits word at addr without an initiator.
//
func (b *Bus) Read32(addr uint64) uint32 {
	return uint32(b.Read(nil, addr, register.DoubleWord, Read))
}

// Read64 reads a 64 bits word at addr without an initiator.
//
func (b *Bus) Read64(addr uint64) uint64 { return b.Read(nil, addr, register.QuadWord, Read) }

// Write8 writes a byte at addr without an initiator.
//
func (b *Bus) Write8(addr uint64, v uint8) { b.Write(nil, addr, register.Byte, uint64(v)) }

// Write16 writes a 16 bits word at addr without an initiator.
//
func (b *Bus) Write16(addr uint64, v uint16) { b.Write(nil, addr, register.Word, uint64(v)) }

// Write32 writes a 32 bits word at addr without an initiator.
//
func (b *Bus) Write32(addr uint64, v uint32) { b.Write(nil, addr, register.DoubleWord, uint64(v)) }

// Write64 writes a 64 bits word at addr without an initiator.
//
func (b *Bus) Write64(addr uint64, v uint64) { b.Write(nil, addr, register.QuadWord, v) }
