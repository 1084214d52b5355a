// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package hwlib_test

import (
	"testing"

	"github.com/db47h/platsim/hwlib"
)

const (
	lpISR  = 0x00
	lpICR  = 0x04
	lpIER  = 0x08
	lpCFGR = 0x0C
	lpCR   = 0x10
	lpCMP  = 0x14
	lpARR  = 0x18
	lpCNT  = 0x1C

	lpARRM    = 1 << 1
	lpCMPOK   = 1 << 3
	lpARROK   = 1 << 4
	lpENABLE  = 1 << 0
	lpSNGSTRT = 1 << 1
	lpCNTSTRT = 1 << 2
)

func TestLPTimer_continuous(t *testing.T) {
	m, _ := newLoggedMachine(1000)
	tm := hwlib.NewLPTimer(m, "lptim1", 1000)
	if got := read(tm, lpARR, nil); got != 1 {
		t.Fatalf("ARR = %d after reset, expected 1", got)
	}
	write(tm, lpIER, lpARRM, nil)
	write(tm, lpCR, lpENABLE, nil)
	write(tm, lpARR, 5, nil)
	if tm.IRQ().IsSet() {
		t.Fatal("IRQ raised on ARROK with ARROKIE cleared")
	}
	write(tm, lpCR, lpENABLE|lpCNTSTRT, nil)
	run(t, m, 4)
	if tm.IRQ().IsSet() {
		t.Fatal("IRQ raised early")
	}
	run(t, m, 1)
	if !tm.IRQ().IsSet() {
		t.Fatal("IRQ not raised on autoreload match")
	}
	if got := read(tm, lpISR, nil); got != lpARRM|lpARROK {
		t.Fatalf("ISR = %#x", got)
	}
	write(tm, lpICR, lpARRM, nil)
	if tm.IRQ().IsSet() || read(tm, lpISR, nil) != lpARROK {
		t.Fatal("ARRM not cleared")
	}
	run(t, m, 2)
	if got := read(tm, lpCNT, nil); got != 2 {
		t.Fatalf("CNT = %d, expected 2", got)
	}
	// periodic
	run(t, m, 3)
	if !tm.IRQ().IsSet() {
		t.Fatal("IRQ not raised on second period")
	}
	write(tm, lpCR, 0, nil)
	write(tm, lpICR, lpARRM|lpARROK, nil)
	run(t, m, 10)
	if tm.IRQ().IsSet() || read(tm, lpISR, nil) != 0 {
		t.Fatal("disabled timer fired")
	}
}

func TestLPTimer_singleShot(t *testing.T) {
	m, _ := newLoggedMachine(1000)
	tm := hwlib.NewLPTimer(m, "lptim1", 1000)
	write(tm, lpARR, 3, nil)
	write(tm, lpCR, lpENABLE|lpSNGSTRT, nil)
	run(t, m, 10)
	if got := read(tm, lpISR, nil); got&lpARRM == 0 {
		t.Fatalf("ISR = %#x", got)
	}
	write(tm, lpICR, lpARRM, nil)
	run(t, m, 10)
	if read(tm, lpISR, nil)&lpARRM != 0 {
		t.Fatal("single shot timer fired twice")
	}
}

func TestLPTimer_bothModes(t *testing.T) {
	m, lb := newLoggedMachine(1000)
	tm := hwlib.NewLPTimer(m, "lptim1", 1000)
	write(tm, lpCR, lpENABLE|lpSNGSTRT|lpCNTSTRT, nil)
	if got := read(tm, lpCR, nil); got != lpENABLE {
		t.Fatalf("CR = %#x, expected start bits cleared", got)
	}
	if !lb.Contains("both single and continuous") {
		t.Fatal("conflicting modes not logged")
	}
	run(t, m, 10)
	if read(tm, lpCNT, nil) != 0 {
		t.Fatal("timer started")
	}
}

func TestLPTimer_compare(t *testing.T) {
	m, _ := newLoggedMachine(1000)
	tm := hwlib.NewLPTimer(m, "lptim1", 1000)
	write(tm, lpIER, lpCMPOK, nil)
	write(tm, lpCMP, 7, nil)
	if !tm.IRQ().IsSet() || read(tm, lpISR, nil) != lpCMPOK {
		t.Fatal("CMPOK interrupt not raised")
	}
	if got := read(tm, lpCMP, nil); got != 7 {
		t.Fatalf("CMP = %d", got)
	}
	write(tm, lpICR, lpCMPOK, nil)
	if tm.IRQ().IsSet() {
		t.Fatal("CMPOK interrupt not cleared")
	}
}

func TestLPTimer_narrowAccess(t *testing.T) {
	m, lb := newLoggedMachine(1000)
	tm := hwlib.NewLPTimer(m, "lptim1", 1000)
	if err := m.Register(tm, "lptim1", 0x40007C00); err != nil {
		t.Fatal(err)
	}
	bus := m.Bus()
	bus.Write8(0x40007C00+lpARR, 0x42)
	if got := bus.Read16(0x40007C00 + lpARR); got != 0x42 {
		t.Fatalf("ARR = %#x", got)
	}
	bus.Write16(0x40007C00+lpCFGR, 3<<9)
	if got := bus.Read32(0x40007C00 + lpCFGR); got != 3<<9 {
		t.Fatalf("CFGR = %#x", got)
	}
	bus.Write64(0x40007C00+lpARR, 0x10)
	if !lb.Contains("unsupported access width") {
		t.Fatal("quad word access not rejected")
	}
}
