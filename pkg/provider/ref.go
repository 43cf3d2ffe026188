package provider

import (
	"context"
	"errors"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// Ref is the handle a factory uses to interact with the graph while it
// computes: watching producers, registering dispose callbacks, pinning the
// instance, or scheduling its own invalidation.
//
// A Ref passed to a synchronous factory is only valid until the factory
// returns. A Ref passed to an asynchronous factory stays valid until its
// generation is superseded; watches made after that return current values
// but record nothing.
type Ref struct {
	rt    *runtime
	scope *Scope
	n     *node
	gen   uint64

	// ctx is non-nil for asynchronous factories and is cancelled when the
	// generation is superseded or the owning scope is disposed.
	ctx context.Context

	// underGate is true for synchronous factories, which run while the
	// runtime gate is already held.
	underGate bool
	live      bool

	deps map[*node]struct{}
}

// Context returns the cancellation context for asynchronous factories. For
// synchronous factories it returns a background context.
func (r *Ref) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

var errRefEscaped = errors.New("ref used after its factory returned")

// current reports whether the ref still speaks for the node's live
// generation. Callers must hold the gate.
func (r *Ref) currentLocked() bool {
	return !r.n.disposed && r.gen == r.n.generation
}

// watchNode resolves def from the ref's scope, records the dependency edge,
// and returns the target with its current snapshot. For synchronous
// factories it may recursively compute producers that are stale in the open
// batch, which is also where dependency cycles surface.
func (r *Ref) watchNode(def *definition) (*node, *snapshot, error) {
	if r.underGate {
		if !r.live {
			err := &currenterrors.StateError{
				Op:       "provider.watch",
				Kind:     currenterrors.KindConfig,
				Provider: r.n.name(),
				Err:      errRefEscaped,
			}
			currenterrors.Report(err)
			return nil, nil, err
		}
		target, err := r.rt.resolve(r.scope, def, true)
		if err != nil {
			return nil, nil, err
		}
		if target.computing {
			panic(errSignal{r.rt.cycleError("provider.watch", target.def.id, target.name())})
		}
		if target.stale && target.batchMark == r.rt.batchSeq {
			// producer was invalidated in this batch but sits later in the
			// pass; pull it forward so we read a settled value
			r.rt.settleLocked(target)
		}
		r.deps[target] = struct{}{}
		return target, target.snap(), nil
	}
	// asynchronous factory: take the gate per watch
	var target *node
	var snap *snapshot
	err := r.rt.withGate("provider.watch", func() error {
		t, err := r.rt.resolve(r.scope, def, true)
		if err != nil {
			return err
		}
		target = t
		snap = t.snap()
		if r.currentLocked() {
			r.rt.linkLate(r.n, t)
			r.deps[t] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return target, snap, nil
}

// OnDispose registers fn to run when the computation that registered it is
// retired: before the instance recomputes, and when it is disposed. Callbacks
// run in reverse registration order. If the ref's generation has already been
// superseded, fn runs immediately so late-acquired resources are still
// released.
//
// Recompute-time callbacks run while the runtime is mid-pass, so fn must not
// read or mutate providers; release external resources only.
func (r *Ref) OnDispose(fn func()) {
	if fn == nil {
		return
	}
	if r.underGate {
		if r.live {
			r.n.addDisposer(fn)
		}
		return
	}
	stale := false
	r.rt.withGate("provider.ondispose", func() error {
		if r.currentLocked() {
			r.n.addDisposer(fn)
		} else {
			stale = true
		}
		return nil
	})
	if stale {
		runDisposer(fn)
	}
}

// KeepAlive pins the instance so it survives dropping to zero observers.
// The pin can be released with Scope.CancelKeepAlive.
func (r *Ref) KeepAlive() {
	if r.underGate {
		if r.live {
			r.n.pinned = true
		}
		return
	}
	r.rt.withGate("provider.keepalive", func() error {
		if r.currentLocked() {
			r.n.pinned = true
		}
		return nil
	})
}

// InvalidateSelf schedules the instance for recomputation in a follow-up
// batch. It is safe to call from inside the factory; the current computation
// finishes first.
func (r *Ref) InvalidateSelf() {
	n := r.n
	rt := r.rt
	schedule := func() {
		rt.withGate("provider.invalidate", func() error {
			rt.markPending(n)
			return nil
		})
	}
	if r.underGate {
		if r.live {
			rt.followUp = append(rt.followUp, schedule)
		}
		return
	}
	rt.withGate("provider.invalidate", func() error {
		if !n.disposed {
			rt.markPending(n)
		}
		return nil
	})
}
