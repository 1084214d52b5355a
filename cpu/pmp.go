// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package cpu

import (
	"math/bits"
	"sync"

	"github.com/db47h/platsim/sysbus"
	"github.com/pkg/errors"
)

// ErrLocked is returned when writing a locked PMP entry.
//
var ErrLocked = errors.New("PMP entry is locked")

// PMPMode is the address matching mode of a PMP entry.
//
type PMPMode uint8

// Address matching modes.
//
const (
	PMPOff PMPMode = iota
	PMPTOR
	PMPNA4
	PMPNAPOT
)

// pmpcfg bits.
const (
	pmpR    = 1 << 0
	pmpW    = 1 << 1
	pmpX    = 1 << 2
	pmpA    = 3 << 3
	pmpLock = 1 << 7
)

// PMP is a RISC-V physical memory protection unit. It translates addresses
// one to one and faults on accesses denied by its rules.
//
// Entries are checked in index order and the first entry matching any byte
// of the access decides. An access that is only partially covered by the
// matching entry fails. Machine mode accesses are allowed when no entry
// matches, and are only checked against locked entries.
//
type PMP struct {
	mu   sync.RWMutex
	cfg  []uint8
	addr []uint64
}

// NewPMP returns a PMP with n entries, all off.
//
func NewPMP(n int) *PMP {
	return &PMP{cfg: make([]uint8, n), addr: make([]uint64, n)}
}

// Entries returns the number of entries.
//
func (p *PMP) Entries() int { return len(p.cfg) }

func (p *PMP) check(i int) error {
	if i < 0 || i >= len(p.cfg) {
		return errors.Errorf("PMP entry %d out of range", i)
	}
	return nil
}

// Config returns the pmpcfg byte of entry i.
//
func (p *PMP) Config(i int) uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg[i]
}

// SetConfig sets the pmpcfg byte of entry i.
//
func (p *PMP) SetConfig(i int, cfg uint8) error {
	if err := p.check(i); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg[i]&pmpLock != 0 {
		return errors.Wrapf(ErrLocked, "pmpcfg%d", i)
	}
	// W without R is reserved
	if cfg&(pmpR|pmpW) == pmpW {
		cfg &^= pmpW
	}
	p.cfg[i] = cfg
	return nil
}

// Address returns the pmpaddr register of entry i (address bits 2 and up).
//
func (p *PMP) Address(i int) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.addr[i]
}

// SetAddress sets the pmpaddr register of entry i. An entry is also locked
// when the next entry is a locked TOR entry.
//
func (p *PMP) SetAddress(i int, a uint64) error {
	if err := p.check(i); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg[i]&pmpLock != 0 {
		return errors.Wrapf(ErrLocked, "pmpaddr%d", i)
	}
	if i+1 < len(p.cfg) && p.cfg[i+1]&pmpLock != 0 && mode(p.cfg[i+1]) == PMPTOR {
		return errors.Wrapf(ErrLocked, "pmpaddr%d is the base of a locked TOR entry", i)
	}
	p.addr[i] = a
	return nil
}

func mode(cfg uint8) PMPMode { return PMPMode(cfg & pmpA >> 3) }

// bounds returns the [lo, hi] inclusive range of entry i.
//
func (p *PMP) bounds(i int) (lo, hi uint64, ok bool) {
	a := p.addr[i]
	switch mode(p.cfg[i]) {
	case PMPTOR:
		if i > 0 {
			lo = p.addr[i-1] << 2
		}
		top := a << 2
		if top <= lo {
			return 0, 0, false
		}
		return lo, top - 1, true
	case PMPNA4:
		lo = a << 2
		return lo, lo + 3, true
	case PMPNAPOT:
		t := bits.TrailingZeros64(^a)
		if t >= 61 {
			return 0, ^uint64(0), true
		}
		lo = (a &^ (1<<uint(t) - 1)) << 2
		return lo, lo + 8<<uint(t) - 1, true
	}
	return 0, 0, false
}

// Allowed reports whether an access of size bytes at addr is permitted.
//
func (p *PMP) Allowed(addr, size uint64, k sysbus.Kind, priv Privilege) bool {
	if size == 0 {
		size = 1
	}
	last := addr + size - 1
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := range p.cfg {
		lo, hi, ok := p.bounds(i)
		if !ok || last < lo || addr > hi {
			continue
		}
		if addr < lo || last > hi {
			return false
		}
		cfg := p.cfg[i]
		if priv == Machine && cfg&pmpLock == 0 {
			return true
		}
		switch k {
		case sysbus.InstructionFetch:
			return cfg&pmpX != 0
		case sysbus.Write:
			return cfg&pmpW != 0
		}
		return cfg&pmpR != 0
	}
	return priv == Machine
}

// Translate implements Translator. Addresses are not translated; denied
// accesses return a *Fault.
//
func (p *PMP) Translate(addr uint64, k sysbus.Kind, priv Privilege) (uint64, error) {
	if !p.Allowed(addr, 1, k, priv) {
		return 0, &Fault{Address: addr, Kind: k, Code: AccessFaultCode(k)}
	}
	return addr, nil
}

// PageSize implements Translator. PMP granularity is 4 bytes.
//
func (p *PMP) PageSize() uint64 { return 4 }
