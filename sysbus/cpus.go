// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package sysbus

import "github.com/pkg/errors"

// AddCPU adds c to the CPU registry. CPU ids must be unique.
//
func (b *Bus) AddCPU(c Initiator) error {
	b.cpuMu.Lock()
	defer b.cpuMu.Unlock()
	for _, o := range b.cpus {
		if o.ID() == c.ID() {
			return errors.Errorf("duplicate CPU id %d (%s and %s)", c.ID(), o.Name(), c.Name())
		}
	}
	b.cpus = append(b.cpus, c)
	return nil
}

// CPUs returns the registered CPUs in registration order.
//
func (b *Bus) CPUs() []Initiator {
	b.cpuMu.RLock()
	defer b.cpuMu.RUnlock()
	return append([]Initiator(nil), b.cpus...)
}

// CPU returns the CPU with the given id.
//
func (b *Bus) CPU(id int) (Initiator, bool) {
	b.cpuMu.RLock()
	defer b.cpuMu.RUnlock()
	for _, c := range b.cpus {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// RequestReturnAll asks every CPU to return to the scheduler at its next
// instruction boundary.
//
func (b *Bus) RequestReturnAll() {
	for _, c := range b.CPUs() {
		c.RequestReturn()
	}
}
