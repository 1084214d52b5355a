// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package register implements memory-mapped registers made of bit fields, and
// collections of registers indexed by offset.
//
// Registers are built with a fluent API:
//
//	regs := register.NewCollection(register.DoubleWord)
//	var enabled *register.Flag
//	regs.DefineRegister(0x10, 0x1000).
//		WithValueField(0, 3, register.ReadWrite, register.Handlers[uint64]{Name: "MODE"}).
//		WithFlag(7, register.ReadWrite, register.Handlers[bool]{
//			Name:     "EN",
//			OnChange: func(_, v bool) { timer.SetEnabled(v) },
//		}).
//		WithReservedBits(8, 24)
//
// Configuration errors (overlapping fields, fields past the register width,
// invalid modes, duplicate offsets) are programming errors and cause a panic
// at definition time.
//
package register

import (
	"log/slog"
	"strconv"

	"github.com/db47h/platsim/internal/bitutil"
	"github.com/pkg/errors"
)

// Configuration and runtime errors.
//
var (
	ErrValueOutOfRange = errors.New("value exceeds the size of the field")
	ErrFieldBounds     = errors.New("field exceeds register width")
	ErrFieldOverlap    = errors.New("field overlaps another field")
	ErrFieldMode       = errors.New("invalid field mode")
	ErrDuplicateOffset = errors.New("register already defined at offset")
)

// A Register is a fixed-width storage cell composed of bit fields.
//
type Register struct {
	width     Width
	value     uint64
	reset     uint64
	soft      bool
	fields    []*field
	used      uint64 // bits claimed by fields
	writeOnly uint64 // bits that read as 0

	readHooks, writeHooks, changeHooks []func(old, new uint64)

	name string
	log  *slog.Logger
}

// New returns a new standalone register of the given width and reset value.
// The register takes part in soft resets.
//
func New(width Width, resetValue uint64) *Register {
	if !width.Valid() {
		panic(errors.Errorf("invalid register width %d", width))
	}
	if !bitutil.Fits(resetValue, int(width)) {
		panic(errors.Wrapf(ErrValueOutOfRange, "reset value %#x for %v register", resetValue, width))
	}
	return &Register{width: width, value: resetValue, reset: resetValue, soft: true}
}

// Width returns the register width.
//
func (r *Register) Width() Width { return r.width }

// Value returns the stored register value. It does not trigger callbacks or
// value providers.
//
func (r *Register) Value() uint64 { return r.value }

// SetValue sets the stored register value without triggering callbacks.
//
func (r *Register) SetValue(v uint64) { r.value = v & r.width.Mask() }

// ResetValue returns the value the register takes on reset.
//
func (r *Register) ResetValue() uint64 { return r.reset }

// SoftResettable reports whether the register is reset on a soft reset.
//
func (r *Register) SoftResettable() bool { return r.soft }

// KeepOnSoftReset excludes the register from soft resets.
//
func (r *Register) KeepOnSoftReset() *Register {
	r.soft = false
	return r
}

// Reset restores the reset value. Field change callbacks are called for the
// fields whose stored value differs from their reset value. Register level
// callbacks are not called.
//
func (r *Register) Reset() {
	old := r.value
	r.value = r.reset
	for _, f := range r.fields {
		if f.onChange != nil && f.get(old) != f.get(r.reset) {
			f.onChange(f.get(old), f.get(r.reset))
		}
	}
}

func (r *Register) addField(pos, width int, mode Mode, f *field) *field {
	if !mode.valid() {
		panic(errors.Wrapf(ErrFieldMode, "field %q: %v", f.name, mode))
	}
	if pos < 0 || width <= 0 || pos+width > int(r.width) {
		panic(errors.Wrapf(ErrFieldBounds, "field %q at [%d, %d) in %v register", f.name, pos, pos+width, r.width))
	}
	m := bitutil.Mask(width) << uint(pos)
	if r.used&m != 0 {
		panic(errors.Wrapf(ErrFieldOverlap, "field %q at [%d, %d)", f.name, pos, pos+width))
	}
	if f.provider != nil && !mode.Readable() {
		panic(errors.Wrapf(ErrFieldMode, "field %q: value provider on a non-readable field", f.name))
	}
	r.used |= m
	if mode.Writable() && !mode.Readable() {
		r.writeOnly |= m
	}
	f.reg, f.pos, f.width, f.mode = r, pos, width, mode
	r.fields = append(r.fields, f)
	return f
}

// DefineValueField adds a multi-bit field and returns a handle to it.
// Passing more than one Handlers value panics with ErrFieldMode.
//
func (r *Register) DefineValueField(pos, width int, mode Mode, h ...Handlers[uint64]) *ValueField {
	return &ValueField{r.addField(pos, width, mode, lower(h, identity, identity))}
}

// WithValueField is the fluent form of DefineValueField.
//
func (r *Register) WithValueField(pos, width int, mode Mode, h ...Handlers[uint64]) *Register {
	r.DefineValueField(pos, width, mode, h...)
	return r
}

// DefineFlag adds a single bit field and returns a handle to it.
//
func (r *Register) DefineFlag(pos int, mode Mode, h ...Handlers[bool]) *Flag {
	return &Flag{r.addField(pos, 1, mode, lower(h, toBool, fromBool))}
}

// WithFlag is the fluent form of DefineFlag.
//
func (r *Register) WithFlag(pos int, mode Mode, h ...Handlers[bool]) *Register {
	r.DefineFlag(pos, mode, h...)
	return r
}

// DefineEnumField adds a field holding values of type E.
//
func DefineEnumField[E Integer](r *Register, pos, width int, mode Mode, h ...Handlers[E]) *EnumField[E] {
	from := func(v uint64) E { return E(v) }
	to := func(e E) uint64 { return uint64(e) }
	return &EnumField[E]{r.addField(pos, width, mode, lower(h, from, to))}
}

// WithEnumField is the fluent form of DefineEnumField.
//
func WithEnumField[E Integer](r *Register, pos, width int, mode Mode, h ...Handlers[E]) *Register {
	DefineEnumField(r, pos, width, mode, h...)
	return r
}

// WithTag marks bits as known but unimplemented. Tagged bits keep their reset
// value and writes that would change them are logged.
//
func (r *Register) WithTag(name string, pos, width int) *Register {
	r.addField(pos, width, 0, &field{name: name, tag: true})
	return r
}

// WithTaggedFlag is WithTag for a single bit.
//
func (r *Register) WithTaggedFlag(name string, pos int) *Register {
	return r.WithTag(name, pos, 1)
}

// WithReservedBits marks bits as reserved. Writes to reserved bits are ignored.
//
func (r *Register) WithReservedBits(pos, width int) *Register {
	r.addField(pos, width, 0, &field{name: "reserved"})
	return r
}

// WithIgnoredBits is WithReservedBits for bits that firmware is expected to write.
//
func (r *Register) WithIgnoredBits(pos, width int) *Register {
	return r.WithReservedBits(pos, width)
}

// WithReadCallback adds a callback called after each read with the register
// value before and after the read.
//
func (r *Register) WithReadCallback(fn func(old, new uint64)) *Register {
	r.readHooks = append(r.readHooks, fn)
	return r
}

// WithWriteCallback adds a callback called after each write with the previous
// register value and the written value.
//
func (r *Register) WithWriteCallback(fn func(old, new uint64)) *Register {
	r.writeHooks = append(r.writeHooks, fn)
	return r
}

// WithChangeCallback adds a callback called after each write that changes
// the stored register value.
//
func (r *Register) WithChangeCallback(fn func(old, new uint64)) *Register {
	r.changeHooks = append(r.changeHooks, fn)
	return r
}

// Read returns the register value as seen by a bus access, running value
// providers and read callbacks and clearing ReadToClear fields.
//
func (r *Register) Read() uint64 {
	for _, f := range r.fields {
		if f.provider != nil {
			r.value = bitutil.Replace(r.value, f.pos, f.width, f.provider(f.get(r.value)))
		}
	}
	old := r.value
	for _, f := range r.fields {
		if f.mode&ReadToClear != 0 {
			r.value = bitutil.Replace(r.value, f.pos, f.width, 0)
		}
	}
	cur := r.value
	for _, f := range r.fields {
		if f.onRead != nil {
			f.onRead(f.get(old), f.get(cur))
		}
		if f.mode&ReadToClear != 0 && f.onChange != nil && f.get(old) != f.get(cur) {
			f.onChange(f.get(old), f.get(cur))
		}
	}
	for _, h := range r.readHooks {
		h(old, cur)
	}
	return old &^ r.writeOnly
}

// Write applies a bus write of v to the register. The stored value is
// updated first, then field write and change callbacks are called in field
// definition order, then register level callbacks.
//
func (r *Register) Write(v uint64) {
	r.write(v, r.width.Mask())
}

// write applies a write of the bits in lane. Bits outside lane take a value
// that leaves their field unchanged, and callbacks of fields that do not
// overlap lane are skipped.
//
func (r *Register) write(v, lane uint64) {
	v &= r.width.Mask()
	if lane != r.width.Mask() {
		v = v&lane | r.neutral(lane)&^lane
	}
	old := r.value
	nv := old
	var tagged uint64
	for _, f := range r.fields {
		w, o := f.get(v), f.get(old)
		var n uint64
		switch {
		case f.mode&Write != 0:
			n = w
		case f.mode&WriteOneToClear != 0:
			n = o &^ w
		case f.mode&WriteZeroToClear != 0:
			n = o & w
		case f.mode&Set != 0:
			n = o | w
		case f.mode&Toggle != 0:
			n = o ^ w
		default:
			if f.tag && w != o {
				tagged |= f.mask()
			}
			continue
		}
		nv = bitutil.Replace(nv, f.pos, f.width, n)
	}
	if r.log != nil {
		if u := (v ^ old) &^ r.used; u != 0 {
			r.log.Warn("unhandled bits written", "register", r.name, "value", hex(v), "bits", hex(u))
		}
		if tagged != 0 {
			r.log.Warn("write to tagged bits", "register", r.name, "value", hex(v), "bits", hex(tagged))
		}
	}
	r.value = nv
	for _, f := range r.fields {
		if !f.mode.Writable() || f.mask()&lane == 0 {
			continue
		}
		if f.onWrite != nil {
			f.onWrite(f.get(old), f.get(v))
		}
		if f.onChange != nil && f.get(old) != f.get(nv) {
			f.onChange(f.get(old), f.get(nv))
		}
	}
	for _, h := range r.writeHooks {
		h(old, v)
	}
	if old != nv {
		for _, h := range r.changeHooks {
			h(old, nv)
		}
	}
}

// neutral returns a register value that, once written, leaves every field
// unchanged. Value providers of Write fields that straddle the edge of lane
// are run so that their bits outside lane are written back up to date.
//
func (r *Register) neutral(lane uint64) uint64 {
	for _, f := range r.fields {
		if m := f.mask(); f.provider != nil && f.mode&Write != 0 && m&lane != 0 && m&^lane != 0 {
			r.value = bitutil.Replace(r.value, f.pos, f.width, f.provider(f.get(r.value)))
		}
	}
	v := r.value
	for _, f := range r.fields {
		switch {
		case f.mode&(WriteOneToClear|Set|Toggle) != 0:
			v &^= f.mask()
		case f.mode&WriteZeroToClear != 0:
			v |= f.mask()
		}
	}
	return v
}

func hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
