package provider

import (
	"context"
	"fmt"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// Read returns the provider's current value as resolved from s, computing it
// on first use. For asynchronous providers the value is an AsyncValue and
// the call never blocks. If the node is in error state, Read returns the
// zero value; use TryRead to receive the error.
func Read[T any](s *Scope, p Readable[T]) T {
	v, _ := TryRead(s, p)
	return v
}

// TryRead is Read with the node's error state surfaced. Configuration
// errors, such as a dependency cycle discovered during instantiation, are
// returned as well.
func TryRead[T any](s *Scope, p Readable[T]) (T, error) {
	var out T
	err := s.rt.withGate("provider.read", func() error {
		n, err := s.rt.resolve(s, p.def(), true)
		if err != nil {
			return err
		}
		snap := n.snap()
		if snap != nil && snap.err != nil {
			return snap.err
		}
		if v, ok := n.def.view(snap).(T); ok {
			out = v
		}
		return nil
	})
	return out, err
}

// Observe registers fn to be called after every batch in which the
// provider's value changed, and returns the subscription handle. The
// instance is created if needed and kept alive while the subscription is
// open. fn may be nil to hold the instance without receiving callbacks.
//
// Observe returns nil if the provider could not be instantiated; the nil
// subscription is safe to use and reports itself closed.
func Observe[T any](s *Scope, p Readable[T], fn func(T)) *Subscription[T] {
	var sub *Subscription[T]
	err := s.rt.withGate("provider.observe", func() error {
		n, err := s.rt.resolve(s, p.def(), true)
		if err != nil {
			return err
		}
		var erased func(any)
		if fn != nil {
			erased = func(v any) {
				if tv, ok := v.(T); ok {
					fn(tv)
				}
			}
		}
		id := n.nextObserver
		n.nextObserver++
		core := &subscription{rt: s.rt, n: n, id: id, fn: erased}
		n.observers[id] = core
		sub = &Subscription[T]{core: core}
		return nil
	})
	if err != nil {
		return nil
	}
	return sub
}

// Set publishes a new value for a state provider, instantiating it if
// needed. Setting a value equal to the current one is a no-op: observers are
// not notified and dependents do not recompute.
func Set[T any](s *Scope, p StateProvider[T], v T) {
	s.rt.withGate("provider.set", func() error {
		n, err := s.rt.resolve(s, p.def(), true)
		if err != nil {
			return err
		}
		s.rt.setValueLocked(n, v)
		return nil
	})
}

// Update applies fn to the state provider's current value and publishes the
// result. The read-modify-write is atomic with respect to other mutations on
// the scope tree.
func Update[T any](s *Scope, p StateProvider[T], fn func(T) T) {
	s.rt.withGate("provider.update", func() error {
		n, err := s.rt.resolve(s, p.def(), true)
		if err != nil {
			return err
		}
		var cur T
		if snap := n.snap(); snap != nil && snap.err == nil {
			if v, ok := snap.value.(T); ok {
				cur = v
			}
		}
		s.rt.setValueLocked(n, fn(cur))
		return nil
	})
}

// Refresh invalidates the provider and returns its value after the
// recomputation pass. For asynchronous providers the returned value is the
// relaunched loading state; use Await to block for the settled result.
func Refresh[T any](s *Scope, p Readable[T]) T {
	s.Invalidate(p)
	return Read(s, p)
}

// Await blocks until the asynchronous provider settles and returns its data
// or error. The instance is held alive for the duration of the wait. Await
// must not be called from inside a synchronous factory; watch the provider
// instead.
func Await[T any](ctx context.Context, s *Scope, p AsyncProvider[T]) (T, error) {
	var zero T
	snap, err := s.rt.awaitNode(ctx, s, p.d)
	if err != nil {
		return zero, err
	}
	st, ok := snap.value.(asyncState)
	if !ok {
		return zero, &currenterrors.StateError{
			Op:       "provider.await",
			Kind:     currenterrors.KindComputation,
			Provider: p.Name(),
			Err:      fmt.Errorf("unexpected result state"),
		}
	}
	if st.tag == AsyncError {
		return zero, st.err
	}
	if v, ok := st.value.(T); ok {
		return v, nil
	}
	return zero, nil
}

// Watch reads the provider's value from inside a factory and records the
// dependency edge, so the watching node recomputes when the producer
// changes. If the producer is in error state, the error propagates: the
// watching factory aborts and its node adopts the same error.
func Watch[T any](r *Ref, p Readable[T]) T {
	target, snap, err := r.watchNode(p.def())
	if err != nil {
		var zero T
		return zero
	}
	if snap != nil && snap.err != nil {
		panic(propagated{err: snap.err})
	}
	var zero T
	if target == nil || snap == nil {
		return zero
	}
	if v, ok := target.def.view(snap).(T); ok {
		return v
	}
	return zero
}

// TryWatch is Watch with errors returned instead of propagated, for
// factories that want to substitute a fallback when a producer fails.
func TryWatch[T any](r *Ref, p Readable[T]) (T, error) {
	var zero T
	target, snap, err := r.watchNode(p.def())
	if err != nil {
		return zero, err
	}
	if snap != nil && snap.err != nil {
		return zero, snap.err
	}
	if target == nil || snap == nil {
		return zero, nil
	}
	if v, ok := target.def.view(snap).(T); ok {
		return v, nil
	}
	return zero, nil
}

// AwaitWatch watches an asynchronous producer and blocks until it settles,
// returning its data or error. It is only valid inside asynchronous
// factories, which run off the runtime gate; the wait is bounded by the
// factory's context.
func AwaitWatch[T any](r *Ref, p AsyncProvider[T]) (T, error) {
	var zero T
	if r.underGate {
		err := &currenterrors.StateError{
			Op:       "provider.await",
			Kind:     currenterrors.KindConfig,
			Provider: r.n.name(),
			Err:      fmt.Errorf("AwaitWatch called from a synchronous factory; use Watch"),
		}
		currenterrors.Report(err)
		return zero, err
	}
	// record the edge first so invalidation of the producer restarts us
	if _, _, err := r.watchNode(p.def()); err != nil {
		return zero, err
	}
	snap, err := r.rt.awaitNode(r.Context(), r.scope, p.d)
	if err != nil {
		return zero, err
	}
	st, ok := snap.value.(asyncState)
	if !ok {
		return zero, fmt.Errorf("unexpected result state for %s", p.Name())
	}
	if st.tag == AsyncError {
		return zero, st.err
	}
	if v, ok := st.value.(T); ok {
		return v, nil
	}
	return zero, nil
}

// UseNotifier returns the live notifier object for p as resolved from s,
// instantiating the node (and running Build) if needed. Methods on the
// returned notifier mutate the node's state through SetState.
func UseNotifier[T any, N Notifier[T]](s *Scope, p NotifierProvider[T, N]) N {
	var out N
	s.rt.withGate("provider.notifier", func() error {
		n, err := s.rt.resolve(s, p.d, true)
		if err != nil {
			return err
		}
		if v, ok := n.notifier.(N); ok {
			out = v
		}
		return nil
	})
	return out
}
