// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package gpio

// Edge is a level transition.
//
type Edge uint8

// Edge values.
//
const (
	NoEdge Edge = iota
	Rising
	Falling
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "Rising"
	case Falling:
		return "Falling"
	}
	return "NoEdge"
}

// EdgeDetector remembers the last level seen on numbered inputs. The zero
// value has all inputs low.
//
type EdgeDetector struct {
	levels map[int]bool
}

// Update records level for input n and returns the transition from the
// previous level.
//
func (d *EdgeDetector) Update(n int, level bool) Edge {
	if d.levels == nil {
		d.levels = make(map[int]bool)
	}
	prev := d.levels[n]
	d.levels[n] = level
	switch {
	case level && !prev:
		return Rising
	case !level && prev:
		return Falling
	}
	return NoEdge
}

// Level returns the last level recorded for input n.
//
func (d *EdgeDetector) Level(n int) bool { return d.levels[n] }

// Reset sets all inputs low.
//
func (d *EdgeDetector) Reset() { d.levels = nil }
