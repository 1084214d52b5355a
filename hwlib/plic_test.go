// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib_test

import (
	"testing"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/hwlib"
	"github.com/db47h/platsim/hwtest"
	"github.com/db47h/platsim/sysbus"
	"github.com/pkg/errors"
)

const (
	plicPriority = 0x0
	plicPending  = 0x1000
	plicEnable   = 0x2000
	plicThresh   = 0x200000
	plicClaim    = 0x200004
	plicSoftware = 0x4000000
)

func newPLIC(t *testing.T, sources, contexts int) (*platsim.Machine, *hwlib.PLIC, *sysbus.Bus) {
	t.Helper()
	m := hwtest.NewMachine(t, platsim.Config{})
	p, err := hwlib.NewPLIC(m, "plic", sources, contexts)
	if err != nil {
		trace(t, err)
		t.Fatal(err)
	}
	if err = m.Register(p, "plic", 0); err != nil {
		t.Fatal(err)
	}
	return m, p, m.Bus()
}

func TestNewPLIC_limits(t *testing.T) {
	m := hwtest.NewMachine(t, platsim.Config{})
	data := []struct {
		sources, contexts int
		err               error
	}{
		{4, 1, nil},
		{255, 16, nil},
		{256, 1, hwlib.ErrTooManySources},
		{1, 1, hwlib.ErrTooManySources},
		{32, 17, hwlib.ErrTooManyContexts},
		{32, 0, hwlib.ErrTooManyContexts},
	}
	for _, d := range data {
		_, err := hwlib.NewPLIC(m, "plic", d.sources, d.contexts)
		if errors.Cause(err) != d.err {
			t.Errorf("NewPLIC(%d, %d): got error %v, expected %v", d.sources, d.contexts, err, d.err)
		}
	}
}

func TestPLIC_claimComplete(t *testing.T) {
	_, p, bus := newPLIC(t, 4, 1)
	var rec hwtest.Recorder
	p.Connections()[0].Connect(&rec, 11)

	bus.Write32(plicPriority+2*4, 5)
	if got := bus.Read32(plicPriority + 2*4); got != 5 {
		t.Fatalf("priority = %d, expected 5", got)
	}
	bus.Write32(plicEnable, 1<<2)

	p.OnGPIO(2, true)
	if !rec.Level(11) {
		t.Fatal("context interrupt not raised")
	}
	if got := bus.Read32(plicPending); got != 1<<2 {
		t.Fatalf("pending = %#x", got)
	}
	if got := bus.Read32(plicClaim); got != 2 {
		t.Fatalf("claim = %d, expected 2", got)
	}
	if rec.Level(11) || bus.Read32(plicPending) != 0 {
		t.Fatal("interrupt still pending after claim")
	}
	if got := bus.Read32(plicClaim); got != 0 {
		t.Fatalf("second claim = %d, expected 0", got)
	}

	// input still high: completion pends again
	bus.Write32(plicClaim, 2)
	if !rec.Level(11) {
		t.Fatal("level interrupt not pending after completion")
	}
	p.OnGPIO(2, false)
	if got := bus.Read32(plicClaim); got != 2 {
		t.Fatalf("claim = %d, expected 2", got)
	}
	bus.Write32(plicClaim, 2)
	if rec.Level(11) {
		t.Fatal("interrupt pending after completion with input low")
	}
}

func TestPLIC_arbitration(t *testing.T) {
	data := []struct {
		name      string
		prio      [4]uint32
		enable    uint32
		threshold uint32
		raise     []int
		claim     uint32
	}{
		{"highest priority", [4]uint32{0, 1, 3, 2}, 0xE, 0, []int{1, 2, 3}, 2},
		{"tie goes to lowest id", [4]uint32{0, 2, 2, 2}, 0xE, 0, []int{3, 2}, 2},
		{"disabled source", [4]uint32{0, 1, 7, 2}, 0xA, 0, []int{1, 2, 3}, 3},
		{"threshold", [4]uint32{0, 1, 3, 2}, 0xE, 2, []int{1, 3}, 0},
		{"zero priority never fires", [4]uint32{0, 0, 0, 0}, 0xE, 0, []int{1}, 0},
		{"source 0 reserved", [4]uint32{7, 0, 0, 0}, 0xF, 0, []int{0}, 0},
	}
	for _, d := range data {
		t.Run(d.name, func(t *testing.T) {
			_, p, bus := newPLIC(t, 4, 1)
			for i, v := range d.prio {
				bus.Write32(plicPriority+uint64(i)*4, v)
			}
			bus.Write32(plicEnable, d.enable)
			bus.Write32(plicThresh, d.threshold)
			for _, n := range d.raise {
				p.OnGPIO(n, true)
			}
			if got := bus.Read32(plicClaim); got != d.claim {
				t.Fatalf("claim = %d, expected %d", got, d.claim)
			}
		})
	}
}

func TestPLIC_contexts(t *testing.T) {
	_, p, bus := newPLIC(t, 40, 2)
	bus.Write32(plicPriority+33*4, 1)
	bus.Write32(plicEnable+0x100+4, 1<<1) // context 1, source 33
	p.OnGPIO(33, true)
	if p.Connections()[0].IsSet() || !p.Connections()[1].IsSet() {
		t.Fatal("wrong context interrupted")
	}
	if got := bus.Read32(plicPending + 4); got != 1<<1 {
		t.Fatalf("pending word 1 = %#x", got)
	}
	if got := bus.Read32(plicClaim + 0x1000); got != 33 {
		t.Fatalf("context 1 claim = %d, expected 33", got)
	}
	// bits past the last source are reserved
	bus.Write32(plicEnable+4, 0xFFFFFFFF)
	if got := bus.Read32(plicEnable + 4); got != 0xFF {
		t.Fatalf("enable word 1 = %#x", got)
	}
}

func TestPLIC_softwareInterrupt(t *testing.T) {
	_, p, bus := newPLIC(t, 4, 2)
	sw := p.Connections()[3]
	bus.Write32(plicSoftware+4, 1)
	if !sw.IsSet() || bus.Read32(plicSoftware+4) != 1 {
		t.Fatal("software interrupt for context 1 not raised")
	}
	if p.Connections()[2].IsSet() {
		t.Fatal("software interrupt for context 0 raised")
	}
	bus.Write32(plicSoftware+4, 0)
	if sw.IsSet() {
		t.Fatal("software interrupt not cleared")
	}
}

func TestPLIC_narrowAccess(t *testing.T) {
	_, _, bus := newPLIC(t, 4, 1)
	bus.Write8(plicPriority+4, 6)
	if got := bus.Read8(plicPriority + 4); got != 6 {
		t.Fatalf("priority = %d, expected 6", got)
	}
	// not a permitted translation
	bus.Write16(plicPriority+8, 3)
	if got := bus.Read32(plicPriority + 8); got != 0 {
		t.Fatalf("priority = %d after word write", got)
	}
}

// A byte wide completion completes the source and claims nothing.
//
func TestPLIC_byteComplete(t *testing.T) {
	_, p, bus := newPLIC(t, 4, 1)
	bus.Write32(plicPriority+1*4, 1)
	bus.Write32(plicPriority+2*4, 1)
	bus.Write32(plicEnable, 1<<1|1<<2)
	p.OnGPIO(1, true)
	p.OnGPIO(2, true)
	if got := bus.Read32(plicClaim); got != 1 {
		t.Fatalf("claim = %d, expected 1", got)
	}
	p.OnGPIO(1, false)
	bus.Write8(plicClaim, 1)
	if got := bus.Read32(plicPending); got != 1<<2 {
		t.Fatalf("pending = %#x after byte completion, expected %#x", got, 1<<2)
	}
	if got := bus.Read32(plicClaim); got != 2 {
		t.Fatalf("claim = %d, expected 2", got)
	}
}

func TestPLIC_reset(t *testing.T) {
	m, p, bus := newPLIC(t, 4, 1)
	bus.Write32(plicPriority+4, 1)
	bus.Write32(plicEnable, 2)
	p.OnGPIO(1, true)
	m.Reset()
	if p.Connections()[0].IsSet() || bus.Read32(plicPriority+4) != 0 || bus.Read32(plicPending) != 0 {
		t.Fatal("state survived reset")
	}
	p.OnGPIO(7, true) // out of range, logged
}
