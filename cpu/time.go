// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package cpu

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// A TimeHandle couples a core to the machine scheduler.
//
// The scheduler calls wg.Add for all cores, then Grant on each handle with a
// virtual time target. Each core executes until its local time reaches the
// target, or until it is asked to return early, stores the time it reached
// and calls wg.Done. Once wg.Wait returns, the scheduler reads Reached and Err
// from every handle.
//
type TimeHandle struct {
	grants  chan uint64
	wg      *sync.WaitGroup
	reached uint64
	err     error
}

// NewTimeHandle returns a time handle reporting to wg.
//
func NewTimeHandle(wg *sync.WaitGroup) *TimeHandle {
	return &TimeHandle{grants: make(chan uint64, 1), wg: wg}
}

// Grant lets the core run until virtual time target.
//
func (h *TimeHandle) Grant(target uint64) { h.grants <- target }

// Reached returns the virtual time reached during the last grant. It must
// only be called after the WaitGroup has been waited on.
//
func (h *TimeHandle) Reached() uint64 { return h.reached }

// Err returns the engine error that stopped the core, if any. Once an error
// is reported, later grants are acknowledged without executing anything.
//
func (h *TimeHandle) Err() error { return h.err }

// Close stops the core goroutine once its current grant is consumed.
//
func (h *TimeHandle) Close() { close(h.grants) }

// Run consumes time grants from h until h is closed, and returns the engine
// error reported during the run, if any. It is meant to run in its own
// goroutine.
//
func (c *Core) Run(h *TimeHandle) error {
	for target := range h.grants {
		if h.err == nil {
			reached, err := c.consume(target)
			h.reached = reached
			if err != nil {
				h.err = errors.Wrapf(err, "%s at pc %s", c.Name(), hex(c.PC()))
			}
		}
		h.wg.Done()
	}
	return h.err
}

// LocalTime returns the virtual time reached by the core. It must only be
// called from the core goroutine or while the core is not running.
//
func (c *Core) LocalTime() uint64 { return c.local }

// SyncTime sets the core local time. It must only be called while the core is
// not running.
//
func (c *Core) SyncTime(t uint64) { c.local, c.frac = t, 0 }

func (c *Core) budget(target uint64) uint64 {
	ipt := c.cfg.InstructionsPerTick
	n := (target - c.local) * ipt
	if ipt != 0 && n/ipt != target-c.local {
		n = ^uint64(0)
	}
	if n > c.frac {
		n -= c.frac
	}
	switch c.Mode() {
	case SingleStep:
		c.stepMu.Lock()
		if c.steps < n {
			n = c.steps
		}
		c.stepMu.Unlock()
	case Debug:
		n = 1
	}
	return n
}

func (c *Core) consume(target uint64) (uint64, error) {
	if c.local >= target {
		return c.local, nil
	}
	c.returnReq.Store(false)
	for c.local < target {
		c.deliverExceptions()
		if c.IsHalted() {
			c.SyncTime(target)
			break
		}
		n := c.budget(target)
		if n == 0 {
			// nothing to execute in single-step mode
			c.SyncTime(target)
			break
		}
		done, err := c.engine.Execute(c, n)
		c.account(done)
		if err != nil {
			return c.local, err
		}
		if done == 0 && !c.IsHalted() && !c.ReturnRequested() {
			// the engine made no progress
			c.SyncTime(target)
			break
		}
		if c.returnReq.Swap(false) {
			c.deliverExceptions()
			break
		}
	}
	return c.local, nil
}

func (c *Core) account(n uint64) {
	if n == 0 {
		return
	}
	c.executed.Add(n)
	ipt := c.cfg.InstructionsPerTick
	c.frac += n
	c.local += c.frac / ipt
	c.frac %= ipt

	switch c.Mode() {
	case SingleStep:
		c.stepMu.Lock()
		if n >= c.steps {
			c.steps = 0
			if c.stepDone != nil {
				close(c.stepDone)
				c.stepDone = nil
			}
		} else {
			c.steps -= n
		}
		c.stepMu.Unlock()
	case Debug:
		c.mu.Lock()
		hook := c.hook
		c.mu.Unlock()
		if hook != nil && !hook(c) {
			c.mode.Store(uint32(SingleStep))
			c.RequestReturn()
		}
	}
}

// Step executes n instructions in SingleStep mode. It blocks until the
// instructions have been executed within granted time, or ctx is done.
//
func (c *Core) Step(ctx context.Context, n uint64) error {
	if c.Mode() != SingleStep {
		return ErrNotSingleStep
	}
	if n == 0 {
		return nil
	}
	c.stepMu.Lock()
	if c.stepDone != nil {
		c.stepMu.Unlock()
		return errors.New("step already in progress")
	}
	done := make(chan struct{})
	c.steps, c.stepDone = n, done
	c.stepMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.stepMu.Lock()
		if c.stepDone == done {
			c.steps, c.stepDone = 0, nil
		}
		c.stepMu.Unlock()
		return ctx.Err()
	}
}
