// Package handoff provides a single-slot rendezvous between a paused task
// and an asynchronous message source.
//
// A task that needs an operator-supplied value calls [Slot.Arm] and waits on
// the returned [Waiter]. A listener that receives a value calls
// [Slot.Deliver]. The slot holds at most one waiter and never queues values:
// a delivery with no waiter is dropped and reported to the caller, and arming
// again replaces the previous waiter, which is then never resolved.
//
// # Usage
//
//	w := slot.Arm()
//	code, err := w.Wait(ctx)
//
//	// elsewhere
//	if !slot.Deliver(text) {
//	    // nobody was waiting
//	}
//
// # Thread Safety
//
// All methods on [Slot] are safe for concurrent use via an internal mutex.
package handoff

import (
	"context"
	"sync"
)

// Waiter receives exactly one value from the Slot that armed it, unless it
// is superseded first.
type Waiter struct {
	ch chan string
}

// Wait blocks until a value is delivered or ctx is done.
func (w *Waiter) Wait(ctx context.Context) (string, error) {
	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Slot is the IDLE/ARMED hand-off point. The zero value is IDLE and ready to use.
type Slot struct {
	mu      sync.Mutex
	pending *Waiter
}

// NewSlot returns an idle Slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Arm moves the slot to ARMED and returns the waiter that the next Deliver
// will resolve. Any previously pending waiter is discarded.
func (s *Slot) Arm() *Waiter {
	w := &Waiter{ch: make(chan string, 1)}

	s.mu.Lock()
	s.pending = w
	s.mu.Unlock()

	return w
}

// Deliver resolves the pending waiter with v and returns the slot to IDLE.
// It returns false, dropping v, when no waiter is pending.
func (s *Slot) Deliver(v string) bool {
	s.mu.Lock()
	w := s.pending
	s.pending = nil
	s.mu.Unlock()

	if w == nil {
		return false
	}
	w.ch <- v
	return true
}

// Armed reports whether a waiter is pending.
func (s *Slot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Disarm returns the slot to IDLE without resolving the pending waiter. It
// reports whether a waiter was pending.
func (s *Slot) Disarm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	armed := s.pending != nil
	s.pending = nil
	return armed
}
