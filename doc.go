/*
Package platsim provides the building blocks of a full-platform hardware
simulator: memory-mapped registers, a system bus, signal lines, a virtual
clock with timers, and CPU execution contexts driven by an external
instruction execution engine.

A Machine ties them together. It is constructed explicitly and passed to
every peripheral, there is no global state:

	m := platsim.New(platsim.Config{Name: "board", ClockFrequency: 1000000})
	mem := hwlib.NewMemory("sram", 0x10000)
	if err := m.Register(mem, "sram", 0x20000000); err != nil {
		// overlapping registration
	}
	plic, err := hwlib.NewPLIC(m, "plic", 32, 1)
	...
	core, err := m.AddCPU(engine, cpu.Config{Name: "hart0"})
	...
	err = m.Connect(plic.Connections()[0], core, 11)
	...
	err = m.Run(ctx, 1000000)

Run executes every core in its own goroutine. Cores are kept in lock step by
time grants: the scheduler lets all cores run up to a common virtual time
target, bounded by the next timer event, waits for all of them, then advances
the clock and fires timer callbacks before the next grant.

Subpackages:

	register  fields, registers and register collections
	sysbus    system bus and peripheral interface
	gpio      signal lines
	vclock    virtual clock and timers
	cpu       CPU execution contexts, MMU/MPU interface, PMP
	hwlib     device models
	hwtest    test helpers
*/
package platsim
