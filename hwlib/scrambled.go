// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"sync"

	"github.com/db47h/platsim/cpu"
	"github.com/db47h/platsim/sysbus"
)

const (
	scrambledPageSize = 0x1000
	// LoadAccessFault is raised on the reading CPU when it reads scrambled
	// memory that was not written since the last ZeroAll.
	LoadAccessFault = cpu.LoadAccessFault
)

// ScrambledMemory is an OpenTitan SRAM with scrambling. After a call to
// ZeroAll, which models a key rotation, reading a location that has not been
// written since raises a load access fault on the reading CPU and returns 0.
//
type ScrambledMemory struct {
	*Memory
	mu      sync.Mutex
	cleared bool
	written []uint64 // one bit per byte
}

// NewScrambledMemory returns a scrambled memory. Its size is rounded up to a
// multiple of 4KiB.
//
func NewScrambledMemory(name string, size uint64) *ScrambledMemory {
	if r := size % scrambledPageSize; r != 0 {
		size += scrambledPageSize - r
	}
	return &ScrambledMemory{
		Memory:  NewMemory(name, size),
		written: make([]uint64, (size+63)/64),
	}
}

func (s *ScrambledMemory) isWritten(off uint64) bool {
	return off < s.Size() && s.written[off/64]&(1<<(off%64)) != 0
}

func (s *ScrambledMemory) markWritten(off, n uint64) {
	for i := off; i < off+n && i < s.Size(); i++ {
		s.written[i/64] |= 1 << (i % 64)
	}
}

// Read implements sysbus.Peripheral.
//
func (s *ScrambledMemory) Read(a sysbus.Access) uint64 {
	s.mu.Lock()
	ok := !s.cleared || s.isWritten(a.Offset)
	s.mu.Unlock()
	if !ok {
		if a.Initiator != nil {
			a.Initiator.RaiseException(LoadAccessFault)
		}
		return 0
	}
	return s.Memory.Read(a)
}

// Write implements sysbus.Peripheral.
//
func (s *ScrambledMemory) Write(a sysbus.Access, v uint64) {
	s.mu.Lock()
	s.markWritten(a.Offset, a.Width.Bytes())
	s.mu.Unlock()
	s.Memory.Write(a, v)
}

// Load copies data into the memory at offset and marks it as written.
//
func (s *ScrambledMemory) Load(offset uint64, data []byte) error {
	if err := s.Memory.Load(offset, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.markWritten(offset, uint64(len(data)))
	s.mu.Unlock()
	return nil
}

// ZeroAll clears the memory and forgets all writes.
//
func (s *ScrambledMemory) ZeroAll() {
	s.mu.Lock()
	s.cleared = true
	clear(s.written)
	s.mu.Unlock()
	s.Memory.ZeroAll()
}
