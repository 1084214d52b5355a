// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package register

import (
	"strings"

	"github.com/db47h/platsim/internal/bitutil"
	"github.com/pkg/errors"
)

// Mode is the access mode of a field. A zero Mode denotes reserved bits.
//
type Mode uint8

// Field access modes. At most one write mode (Write, WriteOneToClear,
// WriteZeroToClear, Set, Toggle) can be used in a given Mode.
//
const (
	Read Mode = 1 << iota
	Write
	WriteOneToClear
	WriteZeroToClear
	ReadToClear
	Set
	Toggle

	ReadWrite = Read | Write
)

const writeModes = Write | WriteOneToClear | WriteZeroToClear | Set | Toggle

// Readable reports whether a field with mode m can be read.
//
func (m Mode) Readable() bool { return m&Read != 0 }

// Writable reports whether a field with mode m can be written.
//
func (m Mode) Writable() bool { return m&writeModes != 0 }

func (m Mode) valid() bool {
	w := m & writeModes
	if w&(w-1) != 0 {
		return false
	}
	return m&ReadToClear == 0 || m&Read != 0
}

var modeNames = [...]string{"Read", "Write", "WriteOneToClear", "WriteZeroToClear", "ReadToClear", "Set", "Toggle"}

func (m Mode) String() string {
	if m == 0 {
		return "Reserved"
	}
	var b strings.Builder
	for i, n := range modeNames {
		if m&(1<<uint(i)) != 0 {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(n)
		}
	}
	return b.String()
}

// Integer is the set of types usable as enumerated field values.
//
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Handlers is the set of optional callbacks attached to a field.
//
// OnRead is called after each read of the register with the field value
// before and after the read (they differ only for ReadToClear fields).
// OnWrite is called on every write to a writable field with the current field
// value and the written bits. OnChange is called when a write or a
// read-to-clear alters the stored field value, and on reset. Provider computes
// the field value on each read; its result replaces the stored bits. Provider
// must not be set on a field that is not readable and must not have side
// effects: it also runs when a narrow write needs the current value of a field
// it only partly covers. Side effects of a read belong in OnRead.
//
type Handlers[T any] struct {
	Name     string
	OnRead   func(old, new T)
	OnWrite  func(old, new T)
	OnChange func(old, new T)
	Provider func(current T) T
}

// field is the untyped record shared by all field kinds.
//
type field struct {
	reg        *Register
	name       string
	pos, width int
	mode       Mode
	tag        bool

	onRead, onWrite, onChange func(old, new uint64)
	provider                  func(uint64) uint64
}

func (f *field) get(v uint64) uint64 { return bitutil.Get(v, f.pos, f.width) }

func (f *field) mask() uint64  { return bitutil.Mask(f.width) << uint(f.pos) }
func (f *field) value() uint64 { return f.get(f.reg.value) }

func (f *field) set(v uint64) error {
	if !bitutil.Fits(v, f.width) {
		return errors.Wrapf(ErrValueOutOfRange, "field %q: %#x does not fit in %d bits", f.name, v, f.width)
	}
	f.reg.value = bitutil.Replace(f.reg.value, f.pos, f.width, v)
	return nil
}

func lowerCallback[T any](fn func(old, new T), from func(uint64) T) func(old, new uint64) {
	if fn == nil {
		return nil
	}
	return func(o, n uint64) { fn(from(o), from(n)) }
}

func lower[T any](h []Handlers[T], from func(uint64) T, to func(T) uint64) *field {
	f := new(field)
	if len(h) == 0 {
		return f
	}
	if len(h) > 1 {
		panic(errors.Wrapf(ErrFieldMode, "field %q: %d sets of handlers", h[0].Name, len(h)))
	}
	hh := h[0]
	f.name = hh.Name
	f.onRead = lowerCallback(hh.OnRead, from)
	f.onWrite = lowerCallback(hh.OnWrite, from)
	f.onChange = lowerCallback(hh.OnChange, from)
	if p := hh.Provider; p != nil {
		f.provider = func(v uint64) uint64 { return to(p(from(v))) }
	}
	return f
}

func identity(v uint64) uint64 { return v }
func toBool(v uint64) bool     { return v != 0 }
func fromBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// ValueField is a handle to a multi-bit integer field.
//
type ValueField struct{ f *field }

// Value returns the stored value of the field. It does not trigger callbacks
// or value providers.
//
func (v *ValueField) Value() uint64 { return v.f.value() }

// Set sets the stored value of the field without triggering callbacks. It
// returns an error wrapping ErrValueOutOfRange if x does not fit in the field.
//
func (v *ValueField) Set(x uint64) error { return v.f.set(x) }

// Width returns the field width in bits.
//
func (v *ValueField) Width() int { return v.f.width }

// Flag is a handle to a single bit field.
//
type Flag struct{ f *field }

// Value returns the stored state of the flag.
//
func (b *Flag) Value() bool { return b.f.value() != 0 }

// Set sets the stored state of the flag without triggering callbacks.
//
func (b *Flag) Set(v bool) { _ = b.f.set(fromBool(v)) }

// EnumField is a handle to a field holding values of an enumerated type.
// Values without a matching named constant are passed through as raw integers.
//
type EnumField[E Integer] struct{ f *field }

// Value returns the stored value of the field.
//
func (e *EnumField[E]) Value() E { return E(e.f.value()) }

// Set sets the stored value of the field without triggering callbacks.
//
func (e *EnumField[E]) Set(v E) error { return e.f.set(uint64(v)) }
