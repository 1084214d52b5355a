// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package bitutil_test

import (
	"testing"
	"testing/quick"

	"github.com/db47h/platsim/internal/bitutil"
)

func TestReplace(t *testing.T) {
	td := []struct {
		v          uint64
		pos, width int
		f          uint64
		want       uint64
	}{
		{0, 0, 8, 0xFF, 0xFF},
		{0xFFFF, 4, 4, 0, 0xFF0F},
		{0x1234, 8, 8, 0xAB, 0xAB34},
		{0, 60, 4, 0x1F, 0xF000000000000000},
		{0xDEAD, 0, 64, 0xBEEF, 0xBEEF},
	}
	for _, d := range td {
		if got := bitutil.Replace(d.v, d.pos, d.width, d.f); got != d.want {
			t.Errorf("Replace(%#x, %d, %d, %#x) = %#x, expected %#x", d.v, d.pos, d.width, d.f, got, d.want)
		}
	}
}

func TestGetReplace(t *testing.T) {
	f := func(v, f uint64, pos, width uint8) bool {
		p, w := int(pos%64), int(width%64)+1
		if p+w > 64 {
			w = 64 - p
		}
		return bitutil.Get(bitutil.Replace(v, p, w, f), p, w) == f&bitutil.Mask(w)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestBits(t *testing.T) {
	f := func(v uint32) bool {
		bits := make([]bool, 32)
		bitutil.SetBits(bits, uint64(v))
		return bitutil.Bits(bits) == uint64(v)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
	var got []int
	bitutil.ForEachSet(0x8005, func(b int) { got = append(got, b) })
	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 15 {
		t.Fatalf("ForEachSet(0x8005) = %v", got)
	}
}
