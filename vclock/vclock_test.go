// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package vclock_test

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/db47h/platsim/vclock"
)

func newTimer(c *vclock.Clock, limit, divider uint64, mode vclock.Mode) (*vclock.Timer, *int) {
	n := new(int)
	t := vclock.NewTimer(c, vclock.TimerConfig{
		Frequency: c.Frequency(),
		Divider:   divider,
		Limit:     limit,
		Mode:      mode,
		Enabled:   true,
	})
	t.OnLimitReached(func() { *n++ })
	return t, n
}

// A timer with limit L and divider D fires exactly once after L*D ticks,
// never before, however the time is split.
//
func TestTimer_firesOnce(t *testing.T) {
	f := func(l, d uint8, split uint16) bool {
		limit, div := uint64(l%50)+1, uint64(d%8)+1
		total := limit * div
		first := uint64(split) % total
		c := vclock.NewClock(1000)
		_, n := newTimer(c, limit, div, vclock.OneShot)
		c.Advance(first)
		if *n != 0 && first < total {
			return false
		}
		c.Advance(total - first - 1)
		if *n != 0 {
			return false
		}
		c.Advance(1)
		if *n != 1 {
			return false
		}
		c.Advance(total * 3)
		return *n == 1
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestTimer_periodic(t *testing.T) {
	f := func(l uint8, e uint16) bool {
		limit := uint64(l%100) + 1
		elapsed := limit + uint64(e)
		c := vclock.NewClock(1 << 20)
		tm, n := newTimer(c, limit, 1, vclock.Periodic)
		c.Advance(elapsed)
		return tm.Value() == (elapsed-limit)%limit && uint64(*n) == elapsed/limit
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestTimer_descending(t *testing.T) {
	c := vclock.NewClock(100)
	tm := vclock.NewTimer(c, vclock.TimerConfig{Frequency: 100, Limit: 10, Direction: vclock.Descending, Enabled: true})
	n := 0
	tm.OnLimitReached(func() { n++ })
	if tm.Value() != 10 {
		t.Fatalf("initial value %d", tm.Value())
	}
	c.Advance(4)
	if tm.Value() != 6 {
		t.Fatalf("value %d, expected 6", tm.Value())
	}
	c.Advance(8)
	if n != 1 || tm.Value() != 8 {
		t.Fatalf("fired %d, value %d", n, tm.Value())
	}
}

func TestTimer_disabled(t *testing.T) {
	c := vclock.NewClock(100)
	tm, n := newTimer(c, 10, 1, vclock.Periodic)
	tm.SetEnabled(false)
	c.Advance(100)
	tm.SetValue(10)
	tm.SetLimit(10)
	if *n != 0 {
		t.Fatal("disabled timer fired")
	}
	tm.SetEnabled(true)
	if *n != 0 {
		t.Fatal("enabling fired retroactively")
	}
	if d, ok := c.TicksToNextEvent(); !ok || d != 0 {
		t.Fatalf("next event in %d (%v)", d, ok)
	}
	c.Advance(1)
	if *n != 1 || tm.Value() != 1 {
		t.Fatalf("fired %d, value %d", *n, tm.Value())
	}
}

func TestTimer_oneShot(t *testing.T) {
	c := vclock.NewClock(100)
	tm, n := newTimer(c, 5, 1, vclock.OneShot)
	c.Advance(20)
	if *n != 1 || tm.Enabled() {
		t.Fatalf("fired %d, enabled %v", *n, tm.Enabled())
	}
	tm.Reset()
	if !tm.Enabled() || tm.Value() != 0 {
		t.Fatal("reset did not restore configuration")
	}
}

func TestTimer_rates(t *testing.T) {
	// timer faster than the clock
	c := vclock.NewClock(10)
	tm := vclock.NewTimer(c, vclock.TimerConfig{Frequency: 100, Limit: 3, Enabled: true})
	n := 0
	tm.OnLimitReached(func() { n++ })
	c.Advance(1)
	if n != 3 || tm.Value() != 1 {
		t.Fatalf("fired %d, value %d", n, tm.Value())
	}

	// fractional: 2 timer ticks every 3 clock ticks
	c = vclock.NewClock(3)
	tm = vclock.NewTimer(c, vclock.TimerConfig{Frequency: 2, Limit: 2, Enabled: true})
	n = 0
	tm.OnLimitReached(func() { n++ })
	if d, _ := c.TicksToNextEvent(); d != 3 {
		t.Fatalf("next event in %d, expected 3", d)
	}
	c.Advance(2)
	if n != 0 || tm.Value() != 1 {
		t.Fatalf("fired %d, value %d", n, tm.Value())
	}
	c.Advance(1)
	if n != 1 {
		t.Fatal("timer did not fire")
	}
}

func TestClock_order(t *testing.T) {
	c := vclock.NewClock(1000)
	var got []int
	var at []uint64
	for i, l := range []uint64{30, 10, 20, 10} {
		i := i
		tm := vclock.NewTimer(c, vclock.TimerConfig{Frequency: 1000, Limit: l, Mode: vclock.OneShot, Enabled: true})
		tm.OnLimitReached(func() {
			got = append(got, i)
			at = append(at, c.Now())
		})
	}
	c.Advance(100)
	want := []int{1, 3, 2, 0}
	wantAt := []uint64{10, 10, 20, 30}
	for i := range want {
		if got[i] != want[i] || at[i] != wantAt[i] {
			t.Fatalf("events %v at %v, expected %v at %v", got, at, want, wantAt)
		}
	}
	if c.Elapsed() != 100*time.Millisecond {
		t.Fatalf("elapsed %v", c.Elapsed())
	}
	if c.Ticks(time.Second) != 1000 {
		t.Fatalf("Ticks(1s) = %d", c.Ticks(time.Second))
	}
}

func TestComparator(t *testing.T) {
	c := vclock.NewClock(1000)
	cmp := vclock.NewComparator(c, vclock.ComparatorConfig{Frequency: 1000, Compare: 100, Enabled: true})
	var at []uint64
	cmp.OnCompare(func() {
		at = append(at, cmp.Value())
		cmp.SetCompare(cmp.Compare() + 50)
	})
	c.Advance(260)
	if len(at) != 4 || at[0] != 100 || at[3] != 250 {
		t.Fatalf("compare events at %v", at)
	}
	if cmp.Value() != 260 {
		t.Fatalf("counter %d", cmp.Value())
	}

	cmp.SetValueHalf(true, 0x1)
	cmp.SetValueHalf(false, 0xFFFFFFF0)
	if cmp.Value() != 0x1FFFFFFF0 {
		t.Fatalf("counter %#x", cmp.Value())
	}
	cmp.SetCompareHalf(false, 0xFFFFFFF8)
	cmp.SetCompareHalf(true, 0x1)
	at = at[:0]
	cmp.OnCompare(func() { at = append(at, cmp.Value()) })
	c.Advance(16)
	if len(at) != 1 || at[0] != 0x1FFFFFFF8 {
		t.Fatalf("compare events at %#x", at)
	}

	// sitting on the compare value fires once
	cmp.SetEnabled(false)
	cmp.SetValue(10)
	cmp.SetCompare(10)
	cmp.SetEnabled(true)
	at = at[:0]
	c.Advance(5)
	if len(at) != 1 || at[0] != 10 {
		t.Fatalf("compare events at %v", at)
	}
}

// A callback that leaves its timer due does not stall the clock.
//
func TestClock_progress(t *testing.T) {
	c := vclock.NewClock(1000)
	tm, n := newTimer(c, 5, 1, vclock.Periodic)
	tm.OnLimitReached(func() {
		*n++
		tm.SetValue(5)
	})
	done := make(chan struct{})
	go func() {
		c.Advance(10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Advance did not return")
	}
	if c.Now() != 10 {
		t.Fatalf("clock at %d, expected 10", c.Now())
	}
	// at least once per tick from the first limit on
	if *n < 6 {
		t.Fatalf("fired %d times, expected at least 6", *n)
	}
}
