// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package gpio

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// ErrMultipleDrivers is returned when connecting a second line to a receiver
// input.
//
var ErrMultipleDrivers = errors.New("input already driven by another line")

// Wiring keeps track of line connections and makes sure that every receiver
// input is driven by at most one line. The zero value is ready to use.
//
// Receivers of a non-comparable dynamic type (a ReceiverFunc for instance)
// cannot be tracked and are connected without checks.
//
type Wiring struct {
	mu      sync.Mutex
	drivers map[Endpoint]*Line
}

func trackable(r Receiver) bool {
	return reflect.TypeOf(r).Comparable()
}

// Connect connects src to input number of dst. Connecting the same line twice
// is a no-op.
//
func (w *Wiring) Connect(src *Line, dst Receiver, number int) error {
	if src == nil || dst == nil {
		return errors.New("nil line or receiver")
	}
	if !trackable(dst) {
		src.Connect(dst, number)
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drivers == nil {
		w.drivers = make(map[Endpoint]*Line)
	}
	ep := Endpoint{dst, number}
	if prev, ok := w.drivers[ep]; ok {
		if prev == src {
			return nil
		}
		return errors.Wrapf(ErrMultipleDrivers, "%T input %d", dst, number)
	}
	w.drivers[ep] = src
	src.Connect(dst, number)
	return nil
}

// Disconnect removes the line driving input number of dst, if any.
//
func (w *Wiring) Disconnect(dst Receiver, number int) {
	if !trackable(dst) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ep := Endpoint{dst, number}
	if l, ok := w.drivers[ep]; ok {
		l.remove(dst, number)
		delete(w.drivers, ep)
	}
}

// Driver returns the line driving input number of dst.
//
func (w *Wiring) Driver(dst Receiver, number int) (*Line, bool) {
	if !trackable(dst) {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.drivers[Endpoint{dst, number}]
	return l, ok
}
