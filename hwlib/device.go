// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib

import (
	"log/slog"
	"sync"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/sysbus"
)

// device is the common part of register based peripherals. Bus accesses,
// signal inputs and timer callbacks are serialized on mu.
//
type device struct {
	mu     sync.Mutex
	name   string
	size   uint64
	log    *slog.Logger
	regs   *register.Collection
	access sysbus.Access // access in progress, valid in register callbacks
}

func (d *device) init(m *platsim.Machine, name string, size uint64, w register.Width, t register.Translation) {
	d.name = name
	d.size = size
	d.log = m.Logger(name)
	d.regs = register.NewCollection(w,
		register.WithName(name),
		register.WithLogger(d.log),
		register.WithTranslation(t))
}

// Name returns the device name.
//
func (d *device) Name() string { return d.name }

// Size returns the size of the device address window.
//
func (d *device) Size() uint64 { return d.size }

// Registers returns the device register collection. It must not be used
// while the machine is running.
//
func (d *device) Registers() *register.Collection { return d.regs }

// Read implements sysbus.Peripheral.
//
func (d *device) Read(a sysbus.Access) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.access = a
	v := d.regs.Read(a.Offset, a.Width)
	d.access = sysbus.Access{}
	return v
}

// Write implements sysbus.Peripheral.
//
func (d *device) Write(a sysbus.Access, v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.access = a
	d.regs.Write(a.Offset, a.Width, v)
	d.access = sysbus.Access{}
}
