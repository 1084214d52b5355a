// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"encoding/binary"
	"sync"

	"github.com/db47h/platsim/sysbus"
	"github.com/pkg/errors"
)

// ErrOutOfBounds is returned when loading data past the end of a memory.
//
var ErrOutOfBounds = errors.New("access out of memory bounds")

// Memory is a little endian RAM. Its contents survive resets.
//
type Memory struct {
	mu   sync.RWMutex
	name string
	data []byte
}

// NewMemory returns a zeroed memory of the given size in bytes.
//
func NewMemory(name string, size uint64) *Memory {
	return &Memory{name: name, data: make([]byte, size)}
}

// Name returns the memory name.
//
func (m *Memory) Name() string { return m.name }

// Size implements sysbus.Peripheral.
//
func (m *Memory) Size() uint64 { return uint64(len(m.data)) }

// Reset implements sysbus.Peripheral. It does nothing.
//
func (m *Memory) Reset() {}

func (m *Memory) span(a sysbus.Access) ([]byte, bool) {
	n := a.Width.Bytes()
	if a.Offset > uint64(len(m.data)) || uint64(len(m.data))-a.Offset < n {
		return nil, false
	}
	return m.data[a.Offset : a.Offset+n], true
}

// Read implements sysbus.Peripheral.
//
func (m *Memory) Read(a sysbus.Access) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.span(a)
	if !ok {
		return 0
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

// Write implements sysbus.Peripheral.
//
func (m *Memory) Write(a sysbus.Access, v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.span(a)
	if !ok {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(b, buf[:])
}

// Load copies data into the memory at offset.
//
func (m *Memory) Load(offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset > uint64(len(m.data)) || uint64(len(m.data))-offset < uint64(len(data)) {
		return errors.Wrapf(ErrOutOfBounds, "%s: loading %d bytes at %#x", m.name, len(data), offset)
	}
	copy(m.data[offset:], data)
	return nil
}

// Dump copies n bytes of memory starting at offset.
//
func (m *Memory) Dump(offset, n uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset > uint64(len(m.data)) || uint64(len(m.data))-offset < n {
		return nil, errors.Wrapf(ErrOutOfBounds, "%s: reading %d bytes at %#x", m.name, n, offset)
	}
	return append([]byte(nil), m.data[offset:offset+n]...), nil
}

// ZeroAll clears the memory.
//
func (m *Memory) ZeroAll() {
	m.mu.Lock()
	clear(m.data)
	m.mu.Unlock()
}
