// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package cpu

import (
	"fmt"
	"strconv"

	"github.com/db47h/platsim/sysbus"
)

// Privilege is a CPU privilege level.
//
type Privilege uint32

// Privilege levels.
//
const (
	User       Privilege = 0
	Supervisor Privilege = 1
	Machine    Privilege = 3
)

func (p Privilege) String() string {
	switch p {
	case User:
		return "User"
	case Supervisor:
		return "Supervisor"
	case Machine:
		return "Machine"
	}
	return "Privilege(" + strconv.Itoa(int(p)) + ")"
}

// A Translator is a memory management or protection unit. Translate returns
// the physical address for addr, or a *Fault.
//
type Translator interface {
	Translate(addr uint64, k sysbus.Kind, p Privilege) (uint64, error)
	PageSize() uint64
}

// Access fault exception codes.
//
const (
	InstructionAccessFault uint32 = 1
	LoadAccessFault        uint32 = 5
	StoreAccessFault       uint32 = 7
)

// AccessFaultCode returns the access fault exception code for access kind k.
//
func AccessFaultCode(k sysbus.Kind) uint32 {
	switch k {
	case sysbus.InstructionFetch:
		return InstructionAccessFault
	case sysbus.Write:
		return StoreAccessFault
	}
	return LoadAccessFault
}

// A Fault is an address translation failure. It is delivered to the engine as
// exception Code.
//
type Fault struct {
	Address uint64
	Kind    sysbus.Kind
	Code    uint32
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%v access fault at %#x (code %d)", f.Kind, f.Address, f.Code)
}
