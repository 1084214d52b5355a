// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Command platsim runs a small demo machine: one core serving low power timer
// interrupts routed through a PLIC, and counting them in SRAM.
//
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/db47h/platsim"
	"github.com/db47h/platsim/cpu"
	"github.com/db47h/platsim/hwlib"
	"github.com/db47h/platsim/register"
	"github.com/db47h/platsim/sysbus"
	"github.com/k0kubun/pp/v3"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

const (
	plicBase  = 0x0C000000
	lptimBase = 0x40007C00
	gtBase    = 0xF8F00200
	sramBase  = 0x20000000

	plicEnable = plicBase + 0x2000
	plicClaim  = plicBase + 0x200004

	lptimICR = lptimBase + 0x04
	lptimIER = lptimBase + 0x08
	lptimCR  = lptimBase + 0x10
	lptimARR = lptimBase + 0x18

	timerSource = 1
)

// ticker is a hand-written engine. It programs the timer and the interrupt
// controller, then sleeps until interrupted and counts interrupts at
// sramBase.
//
type ticker struct {
	period uint64
	ready  bool
	log    *slog.Logger
}

func (e *ticker) Execute(c *cpu.Core, n uint64) (uint64, error) {
	var i uint64
	for ; i < n && !c.IsHalted() && !c.ReturnRequested(); i++ {
		if err := e.step(c); err != nil {
			return i + 1, err
		}
		c.SetPC(c.PC() + 4)
	}
	return i, nil
}

func (e *ticker) step(c *cpu.Core) error {
	store := func(addr, v uint64) error {
		if !c.Store(addr, register.DoubleWord, v) {
			return errors.Errorf("store fault at %#x", addr)
		}
		return nil
	}
	if !e.ready {
		e.ready = true
		for _, s := range [...]struct{ addr, v uint64 }{
			{plicBase + 4*timerSource, 1},
			{plicEnable, 1 << timerSource},
			{lptimIER, 1 << 1},
			{lptimCR, 1},
			{lptimARR, e.period},
			{lptimCR, 1 | 1<<2},
		} {
			if err := store(s.addr, s.v); err != nil {
				return err
			}
		}
		c.Halt()
		return nil
	}
	if c.Interrupts()&1 == 0 {
		c.Halt()
		return nil
	}
	id, ok := c.Load(plicClaim, register.DoubleWord)
	if !ok {
		return errors.New("claim fault")
	}
	if id == timerSource {
		if err := store(lptimICR, 1<<1); err != nil {
			return err
		}
		n, _ := c.Load(sramBase, register.DoubleWord)
		if err := store(sramBase, n+1); err != nil {
			return err
		}
		e.log.Debug("tick", "count", n+1, "pc", c.PC())
	}
	return store(plicClaim, id)
}

func (e *ticker) Exception(c *cpu.Core, code uint32) {
	e.log.Warn("exception", "code", code, "pc", c.PC())
}

type regDump struct {
	Peripheral string
	Base       string
	Size       uint64
	Registers  map[string]uint64
}

type registered interface {
	Registers() *register.Collection
}

func dump(m *platsim.Machine) {
	p := pp.New()
	p.SetOutput(colorable.NewColorableStdout())
	p.SetColoringEnabled(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	var ds []regDump
	for _, r := range m.Bus().Registrations() {
		d := regDump{Peripheral: r.Name, Base: fmt.Sprintf("%#x", r.Base), Size: r.Size}
		if rp, ok := r.Peripheral.(registered); ok {
			d.Registers = make(map[string]uint64)
			regs := rp.Registers()
			for _, off := range regs.Offsets() {
				v, _ := regs.Peek(off)
				d.Registers[fmt.Sprintf("%#x", off)] = v
			}
		}
		ds = append(ds, d)
	}
	p.Println(ds)
}

func build(cfg platsim.Config, period uint64) (*platsim.Machine, *cpu.Core, error) {
	m := platsim.New(cfg)
	plic, err := hwlib.NewPLIC(m, "plic", 8, 1)
	if err != nil {
		return nil, nil, err
	}
	lptim := hwlib.NewLPTimer(m, "lptim1", cfg.ClockFrequency)
	gt := hwlib.NewGlobalTimer(m, "gtimer", cfg.ClockFrequency)
	sram := hwlib.NewMemory("sram", 0x1000)
	for _, r := range [...]struct {
		p    sysbus.Peripheral
		name string
		base uint64
	}{
		{plic, "plic", plicBase},
		{lptim, "lptim1", lptimBase},
		{gt, "gtimer", gtBase},
		{sram, "sram", sramBase},
	} {
		if err = m.Register(r.p, r.name, r.base); err != nil {
			return nil, nil, err
		}
	}
	m.Seal()

	core, err := m.AddCPU(&ticker{period: period, log: m.Logger("ticker")}, cpu.Config{Name: "cpu0", Model: "demo"})
	if err != nil {
		return nil, nil, err
	}
	if err = m.Connect(lptim.IRQ(), plic, timerSource); err != nil {
		return nil, nil, err
	}
	if err = m.Connect(plic.Connections()[0], core, 0); err != nil {
		return nil, nil, err
	}
	// free running global timer
	m.Bus().Write32(gtBase+0x08, 1)
	return m, core, nil
}

func main() {
	var (
		ticks, quantum, freq, period uint64
		doDump, verbose              bool
	)
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Uint64Var(&ticks, "ticks", 100000, "number of clock `ticks` to run")
	fs.Uint64Var(&quantum, "quantum", platsim.DefaultQuantum, "scheduling quantum in ticks")
	fs.Uint64Var(&freq, "freq", 32768, "clock frequency in Hz")
	fs.Uint64Var(&period, "period", 1000, "timer period in ticks")
	fs.BoolVar(&doDump, "dump", false, "dump the bus map and register state after the run")
	fs.BoolVar(&verbose, "v", false, "verbose logging")
	fs.Parse(os.Args[1:])

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(colorable.NewColorableStderr(), &slog.HandlerOptions{Level: level}))

	if period == 0 || period > 0xFFFF {
		log.Error("timer period out of range", "period", period)
		os.Exit(2)
	}

	m, core, err := build(platsim.Config{Name: "demo", ClockFrequency: freq, Quantum: quantum, Logger: log}, period)
	if err != nil {
		log.Error("machine setup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err = m.Run(ctx, ticks); err != nil {
		log.Error("run failed", "err", err, "time", m.Clock().Now())
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}

	count := m.Bus().Read32(sramBase)
	log.Info("done", "ticks", m.Clock().Now(), "instructions", core.ExecutedInstructions(), "interrupts", count)
	fmt.Printf("%d timer interrupts in %d ticks\n", count, m.Clock().Now())
	if doDump {
		dump(m)
	}
}
