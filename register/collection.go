// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package register

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/pkg/errors"
)

// A Collection maps offsets to registers of a single native width.
//
// Accesses at an unknown offset, or with a width that is neither native nor a
// permitted translation, are logged; reads return 0 and writes are dropped.
//
// A Collection is not safe for concurrent use. Peripherals shared by several
// CPUs must serialize their accesses.
//
type Collection struct {
	name  string
	width Width
	trans Translation
	regs  map[uint64]*Register
	order []uint64
	log   *slog.Logger
}

// An Option configures a Collection.
//
type Option func(*Collection)

// WithName sets the name used in log messages.
//
func WithName(name string) Option {
	return func(c *Collection) { c.name = name }
}

// WithLogger sets the logger used to report unhandled accesses.
//
func WithLogger(l *slog.Logger) Option {
	return func(c *Collection) { c.log = l }
}

// WithTranslation sets the permitted width translations.
//
func WithTranslation(t Translation) Option {
	return func(c *Collection) { c.trans |= t }
}

// NewCollection returns an empty collection of registers of the given width.
//
func NewCollection(width Width, opts ...Option) *Collection {
	if !width.Valid() {
		panic(errors.Errorf("invalid register width %d", width))
	}
	c := &Collection{width: width, regs: make(map[uint64]*Register)}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Width returns the native register width.
//
func (c *Collection) Width() Width { return c.width }

// Add adds register r at the given offset.
//
func (c *Collection) Add(offset uint64, r *Register) error {
	if r.width != c.width {
		return errors.Errorf("%v register added to a %v collection", r.width, c.width)
	}
	if _, ok := c.regs[offset]; ok {
		return errors.Wrapf(ErrDuplicateOffset, "%#x", offset)
	}
	r.name = c.regName(offset)
	r.log = c.log
	c.regs[offset] = r
	c.order = append(c.order, offset)
	return nil
}

func (c *Collection) regName(offset uint64) string {
	if c.name == "" {
		return fmt.Sprintf("%#x", offset)
	}
	return fmt.Sprintf("%s+%#x", c.name, offset)
}

// DefineRegister creates a register at the given offset and returns it for
// further field definitions. It panics if a register already exists at offset.
//
func (c *Collection) DefineRegister(offset, resetValue uint64) *Register {
	r := New(c.width, resetValue)
	if err := c.Add(offset, r); err != nil {
		panic(err)
	}
	return r
}

// DefineMany defines count identical registers starting at offset, step bytes
// apart. setup is called for each register with its index.
//
func (c *Collection) DefineMany(offset uint64, count int, step uint64, resetValue uint64, setup func(r *Register, i int)) {
	if step == 0 {
		step = c.width.Bytes()
	}
	for i := 0; i < count; i++ {
		r := c.DefineRegister(offset+uint64(i)*step, resetValue)
		if setup != nil {
			setup(r, i)
		}
	}
}

// Register returns the register at the given offset.
//
func (c *Collection) Register(offset uint64) (*Register, bool) {
	r, ok := c.regs[offset]
	return r, ok
}

// Offsets returns the offsets of all registers in ascending order.
//
func (c *Collection) Offsets() []uint64 {
	offs := make([]uint64, len(c.order))
	copy(offs, c.order)
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}

// Reset resets all registers in definition order.
//
func (c *Collection) Reset() {
	for _, off := range c.order {
		c.regs[off].Reset()
	}
}

// SoftReset resets all registers except those excluded with KeepOnSoftReset.
//
func (c *Collection) SoftReset() {
	for _, off := range c.order {
		if r := c.regs[off]; r.soft {
			r.Reset()
		}
	}
}

// TryRead reads the register at offset with a native width access. It returns
// false if there is no register at that offset.
//
func (c *Collection) TryRead(offset uint64) (uint64, bool) {
	r, ok := c.regs[offset]
	if !ok {
		return 0, false
	}
	return r.Read(), true
}

// TryWrite writes the register at offset with a native width access. It
// returns false if there is no register at that offset.
//
func (c *Collection) TryWrite(offset, v uint64) bool {
	r, ok := c.regs[offset]
	if !ok {
		return false
	}
	r.Write(v)
	return true
}

// Peek returns the stored value of the register at offset, without running
// value providers or callbacks.
//
func (c *Collection) Peek(offset uint64) (uint64, bool) {
	r, ok := c.regs[offset]
	if !ok {
		return 0, false
	}
	return r.value, true
}

// Poke sets the stored value of the register at offset without running
// callbacks.
//
func (c *Collection) Poke(offset, v uint64) bool {
	r, ok := c.regs[offset]
	if !ok {
		return false
	}
	r.SetValue(v)
	return true
}

func (c *Collection) translate(offset uint64, w Width) bool {
	if w == c.width {
		return true
	}
	if t := TranslationFor(w, c.width); t != 0 && c.trans&t != 0 {
		return true
	}
	c.log.Warn("unsupported access width", "peripheral", c.name, "offset", hex(offset), "width", w.String())
	return false
}

// Read performs a read access of width w at offset.
//
func (c *Collection) Read(offset uint64, w Width) uint64 {
	if !c.translate(offset, w) {
		return 0
	}
	switch {
	case w == c.width:
		if v, ok := c.TryRead(offset); ok {
			return v
		}
	case w < c.width:
		n := c.width.Bytes()
		base := offset &^ (n - 1)
		if v, ok := c.TryRead(base); ok {
			return v >> ((offset - base) * 8) & w.Mask()
		}
	default:
		n := c.width.Bytes()
		var v uint64
		for i := uint64(0); i < w.Bytes()/n; i++ {
			v |= c.Read(offset+i*n, c.width) << (i * n * 8)
		}
		return v
	}
	c.log.Warn("unhandled read", "peripheral", c.name, "offset", hex(offset), "width", w.String())
	return 0
}

// Write performs a write access of width w at offset.
//
func (c *Collection) Write(offset uint64, w Width, v uint64) {
	if !c.translate(offset, w) {
		return
	}
	v &= w.Mask()
	switch {
	case w == c.width:
		if c.TryWrite(offset, v) {
			return
		}
	case w < c.width:
		n := c.width.Bytes()
		base := offset &^ (n - 1)
		if r, ok := c.regs[base]; ok {
			shift := (offset - base) * 8
			r.write(v<<shift, w.Mask()<<shift)
			return
		}
	default:
		n := c.width.Bytes()
		for i := uint64(0); i < w.Bytes()/n; i++ {
			c.Write(offset+i*n, c.width, v>>(i*n*8))
		}
		return
	}
	c.log.Warn("unhandled write", "peripheral", c.name, "offset", hex(offset), "width", w.String(), "value", hex(v))
}
