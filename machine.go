// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package platsim

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/db47h/platsim/cpu"
	"github.com/db47h/platsim/gpio"
	"github.com/db47h/platsim/sysbus"
	"github.com/db47h/platsim/vclock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Default configuration values.
//
const (
	DefaultClockFrequency = 1000000
	DefaultQuantum        = 1000
)

// ErrRunning is returned when starting a machine that is already running.
//
var ErrRunning = errors.New("machine is already running")

// Config is the configuration of a Machine. Zero values select defaults.
//
type Config struct {
	Name string
	// Virtual clock ticks per virtual second.
	ClockFrequency uint64
	// Maximum number of ticks granted to the CPUs at once.
	Quantum uint64
	// Value returned by reads of unmapped addresses.
	UnmappedValue uint64
	Logger        *slog.Logger
}

// A Machine aggregates a virtual clock, a system bus, signal wiring and CPUs.
//
type Machine struct {
	cfg    Config
	log    *slog.Logger
	clock  *vclock.Clock
	bus    *sysbus.Bus
	wiring gpio.Wiring
	cores  []*cpu.Core

	mu      sync.Mutex
	running bool
}

// New returns a new machine.
//
func New(cfg Config) *Machine {
	if cfg.ClockFrequency == 0 {
		cfg.ClockFrequency = DefaultClockFrequency
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = DefaultQuantum
	}
	if cfg.Name == "" {
		cfg.Name = "machine"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("machine", cfg.Name)
	return &Machine{
		cfg:   cfg,
		log:   log,
		clock: vclock.NewClock(cfg.ClockFrequency),
		bus:   sysbus.New(sysbus.WithLogger(log), sysbus.WithUnmappedValue(cfg.UnmappedValue)),
	}
}

// Name returns the machine name.
//
func (m *Machine) Name() string { return m.cfg.Name }

// Clock returns the machine virtual clock.
//
func (m *Machine) Clock() *vclock.Clock { return m.clock }

// Bus returns the machine system bus.
//
func (m *Machine) Bus() *sysbus.Bus { return m.bus }

// Logger returns the machine logger. If name is not empty, the returned logger
// tags records with the peripheral name.
//
func (m *Machine) Logger(name string) *slog.Logger {
	if name == "" {
		return m.log
	}
	return m.log.With("peripheral", name)
}

// Cores returns the machine CPUs.
//
func (m *Machine) Cores() []*cpu.Core {
	return append([]*cpu.Core(nil), m.cores...)
}

// Register maps peripheral p at base address base, over p.Size() bytes.
//
func (m *Machine) Register(p sysbus.Peripheral, name string, base uint64) error {
	return m.bus.Register(p, name, sysbus.Range{Base: base})
}

// RegisterRange maps peripheral p over the given address range.
//
func (m *Machine) RegisterRange(p sysbus.Peripheral, name string, r sysbus.Range) error {
	return m.bus.Register(p, name, r)
}

// Seal freezes the bus routing table.
//
func (m *Machine) Seal() { m.bus.Seal() }

// AddCPU creates a CPU executing instructions with engine e and attaches it
// to the bus.
//
func (m *Machine) AddCPU(e cpu.Engine, cfg cpu.Config) (*cpu.Core, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil, ErrRunning
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	c := cpu.New(len(m.cores), m.bus, e, cfg)
	if err := m.bus.AddCPU(c); err != nil {
		return nil, errors.Wrap(err, "add CPU")
	}
	c.SyncTime(m.clock.Now())
	m.cores = append(m.cores, c)
	return c, nil
}

// Connect connects line src to input n of dst. An input can only be driven
// by one line.
//
func (m *Machine) Connect(src *gpio.Line, dst gpio.Receiver, n int) error {
	return m.wiring.Connect(src, dst, n)
}

// Disconnect disconnects input n of dst.
//
func (m *Machine) Disconnect(dst gpio.Receiver, n int) {
	m.wiring.Disconnect(dst, n)
}

// Reset resets all peripherals in registration order, then all CPUs. It must
// not be called while the machine is running.
//
func (m *Machine) Reset() {
	m.bus.Reset()
	for _, c := range m.cores {
		c.Reset()
	}
}

// RunFor runs the machine for the virtual duration d.
//
func (m *Machine) RunFor(ctx context.Context, d time.Duration) error {
	return m.Run(ctx, m.clock.Ticks(d))
}

// Run runs the machine for the given number of clock ticks, or until ctx is
// done or an engine fails. Each CPU runs in its own goroutine for the duration
// of the call.
//
func (m *Machine) Run(ctx context.Context, ticks uint64) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrRunning
	}
	m.running = true
	cores := append([]*cpu.Core(nil), m.cores...)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	var (
		g  errgroup.Group
		wg sync.WaitGroup
	)
	now := m.clock.Now()
	hs := make([]*cpu.TimeHandle, len(cores))
	for i, c := range cores {
		if c.LocalTime() < now {
			c.SyncTime(now)
		}
		h := cpu.NewTimeHandle(&wg)
		hs[i] = h
		g.Go(func() error { return c.Run(h) })
	}
	err := m.schedule(ctx, hs, &wg, now+ticks)
	for _, h := range hs {
		h.Close()
	}
	if gerr := g.Wait(); err == nil {
		err = gerr
	}
	return err
}

func (m *Machine) schedule(ctx context.Context, hs []*cpu.TimeHandle, wg *sync.WaitGroup, end uint64) error {
	for now := m.clock.Now(); now < end; now = m.clock.Now() {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := m.cfg.Quantum
		if end-now < q {
			q = end - now
		}
		if t, ok := m.clock.TicksToNextEvent(); ok && t < q {
			q = t
		}
		if q == 0 {
			// an event is due now, it fires on the next advance
			q = 1
		}
		target := now + q
		if len(hs) == 0 {
			m.clock.Advance(q)
			continue
		}

		wg.Add(len(hs))
		for _, h := range hs {
			h.Grant(target)
		}
		wg.Wait()

		reached := target
		for _, h := range hs {
			if err := h.Err(); err != nil {
				return err
			}
			if r := h.Reached(); r < reached {
				reached = r
			}
		}
		if reached > now {
			m.clock.Advance(reached - now)
		}
	}
	return nil
}
