package provider

import (
	"sync/atomic"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// subscription is the type-erased observer registration held in a node's
// observer table. Callbacks fire after the batch that changed the value, in
// registration order, outside the runtime gate.
type subscription struct {
	rt     *runtime
	n      *node
	id     uint64
	fn     func(any)
	closed atomic.Bool
}

func (c *subscription) invoke(snap *snapshot) {
	if c == nil || c.fn == nil || c.closed.Load() {
		return
	}
	defer currenterrors.Recover("provider.notify")
	c.fn(c.n.def.view(snap))
}

// markClosed flags the subscription dead without touching the node's
// observer table; used when the node itself is being disposed.
func (c *subscription) markClosed() {
	c.closed.Store(true)
}

func (c *subscription) close() {
	if c == nil || c.closed.Swap(true) {
		return
	}
	c.rt.withGate("provider.unobserve", func() error {
		if c.n.observers != nil {
			delete(c.n.observers, c.id)
		}
		c.rt.candidateLocked(c.n)
		return nil
	})
}

// Subscription is a live observer registration for a provider. It keeps the
// observed instance alive until closed. Current reads the latest published
// value without taking the runtime gate.
type Subscription[T any] struct {
	core *subscription
}

// Current returns the most recently published value. For a node in error
// state it returns the zero value; see Err.
func (s *Subscription[T]) Current() T {
	var zero T
	if s == nil || s.core == nil {
		return zero
	}
	snap := s.core.n.snap()
	if snap == nil {
		return zero
	}
	if v, ok := s.core.n.def.view(snap).(T); ok {
		return v
	}
	return zero
}

// Err returns the error of the node's current result, or nil if the result
// is a value.
func (s *Subscription[T]) Err() error {
	if s == nil || s.core == nil {
		return nil
	}
	snap := s.core.n.snap()
	if snap == nil {
		return nil
	}
	return snap.err
}

// Closed reports whether the subscription has been closed, either explicitly
// or by the observed instance being disposed.
func (s *Subscription[T]) Closed() bool {
	return s == nil || s.core == nil || s.core.closed.Load()
}

// Close removes the observer registration. If this was the last observer of
// an auto-dispose instance with no dependents, the instance is torn down at
// the end of the current batch.
func (s *Subscription[T]) Close() {
	if s == nil || s.core == nil {
		return
	}
	s.core.close()
}
