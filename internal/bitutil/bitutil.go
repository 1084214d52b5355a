// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package bitutil provides helpers to extract and splice bit ranges.
//
package bitutil

// Mask returns a mask with the width lower bits set.
//
func Mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(width) - 1
}

// Get returns the width bits of v starting at bit pos. Bit 0 is lsb.
//
func Get(v uint64, pos, width int) uint64 {
	return v >> uint(pos) & Mask(width)
}

// Replace returns v with the width bits at pos replaced by the low bits of f.
//
func Replace(v uint64, pos, width int, f uint64) uint64 {
	m := Mask(width) << uint(pos)
	return v&^m | f<<uint(pos)&m
}

// Fits reports whether v can be represented on width bits.
//
func Fits(v uint64, width int) bool {
	return v&^Mask(width) == 0
}

// IsSet returns the state of bit n in v.
//
func IsSet(v uint64, n int) bool {
	return v&(1<<uint(n)) != 0
}

// ForEachSet calls fn with the index of every bit set in v, lsb first.
//
func ForEachSet(v uint64, fn func(bit int)) {
	for bit := 0; v != 0; bit++ {
		if v&1 != 0 {
			fn(bit)
		}
		v >>= 1
	}
}

// Bits packs a slice of booleans into an integer. Element 0 is lsb.
//
func Bits(bits []bool) uint64 {
	var out uint64
	for i, b := range bits {
		if b {
			out |= 1 << uint(i)
		}
	}
	return out
}

// SetBits unpacks v into bits. Element 0 is lsb.
//
func SetBits(bits []bool, v uint64) {
	for i := range bits {
		bits[i] = v&(1<<uint(i)) != 0
	}
}
