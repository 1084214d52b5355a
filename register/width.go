// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package register

import (
	"strconv"

	"github.com/db47h/platsim/internal/bitutil"
)

// Width is the width in bits of a register or of a bus access.
//
type Width uint8

// Supported widths.
//
const (
	Byte       Width = 8
	Word       Width = 16
	DoubleWord Width = 32
	QuadWord   Width = 64
)

// Bytes returns the width in bytes.
//
func (w Width) Bytes() uint64 { return uint64(w) / 8 }

// Mask returns a value with the w lower bits set.
//
func (w Width) Mask() uint64 { return bitutil.Mask(int(w)) }

// Valid reports whether w is one of Byte, Word, DoubleWord or QuadWord.
//
func (w Width) Valid() bool { return w.index() >= 0 }

func (w Width) index() int {
	switch w {
	case Byte:
		return 0
	case Word:
		return 1
	case DoubleWord:
		return 2
	case QuadWord:
		return 3
	}
	return -1
}

func (w Width) String() string {
	switch w {
	case Byte:
		return "Byte"
	case Word:
		return "Word"
	case DoubleWord:
		return "DoubleWord"
	case QuadWord:
		return "QuadWord"
	}
	return "Width(" + strconv.Itoa(int(w)) + ")"
}

// Translation is a set of permitted access width translations. A translation
// named XToY lets an access of width X reach registers of native width Y.
//
// Narrow to wide translations are read-modify-write operations on the aligned
// native register. Wide to narrow translations are split into consecutive
// native accesses, lowest address first (little-endian).
//
type Translation uint16

// Permitted translations.
//
const (
	ByteToWord Translation = 1 << iota
	ByteToDoubleWord
	ByteToQuadWord
	WordToDoubleWord
	WordToQuadWord
	DoubleWordToQuadWord
	WordToByte
	DoubleWordToByte
	DoubleWordToWord
	QuadWordToByte
	QuadWordToWord
	QuadWordToDoubleWord
)

// [access][native]
var translations = [4][4]Translation{
	{0, ByteToWord, ByteToDoubleWord, ByteToQuadWord},
	{WordToByte, 0, WordToDoubleWord, WordToQuadWord},
	{DoubleWordToByte, DoubleWordToWord, 0, DoubleWordToQuadWord},
	{QuadWordToByte, QuadWordToWord, QuadWordToDoubleWord, 0},
}

// TranslationFor returns the translation needed for an access of width access
// to reach a register of width native. It returns 0 if the widths are equal or
// invalid.
//
func TranslationFor(access, native Width) Translation {
	a, n := access.index(), native.index()
	if a < 0 || n < 0 {
		return 0
	}
	return translations[a][n]
}
