package provider

import (
	"errors"
	"testing"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

func TestAutoDisposeOnLastObserverGone(t *testing.T) {
	disposed := false
	calls := 0
	p := New("transient", func(r *Ref) int {
		calls++
		r.OnDispose(func() { disposed = true })
		return calls
	}, AutoDispose())
	s := NewScope()
	defer s.Dispose()

	sub := Observe(s, p, nil)
	if !s.Contains(p) {
		t.Fatal("observed provider was not instantiated")
	}
	sub.Close()
	if !disposed {
		t.Error("dispose callback did not run after last observer left")
	}
	if s.Contains(p) {
		t.Error("instance survived with zero observers")
	}

	// next use builds a fresh instance
	if got := Read(s, p); got != 2 {
		t.Errorf("value after rebuild = %d, want 2", got)
	}
}

func TestAutoDisposeUnobservedReadDisposesAtBatchEnd(t *testing.T) {
	disposed := false
	p := New("flash", func(r *Ref) int {
		r.OnDispose(func() { disposed = true })
		return 1
	}, AutoDispose())
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, p); got != 1 {
		t.Fatalf("read = %d, want 1", got)
	}
	if !disposed {
		t.Error("unobserved auto-dispose instance survived the batch")
	}
	if s.Contains(p) {
		t.Error("instance still registered after batch")
	}
}

func TestReleaseAndReacquireWithinBatchKeepsInstance(t *testing.T) {
	calls := 0
	disposed := false
	p := New("flicker", func(r *Ref) int {
		calls++
		r.OnDispose(func() { disposed = true })
		return calls
	}, AutoDispose())
	s := NewScope()
	defer s.Dispose()

	first := Observe(s, p, nil)
	var second *Subscription[int]
	s.Batch(func() {
		first.Close()
		second = Observe(s, p, nil)
	})
	defer second.Close()

	if disposed {
		t.Error("instance disposed despite being re-acquired in the same batch")
	}
	if calls != 1 {
		t.Errorf("factory ran %d times, want 1", calls)
	}
}

func TestKeepAliveOptionPinsInstance(t *testing.T) {
	disposed := false
	p := New("pinned", func(r *Ref) int {
		r.OnDispose(func() { disposed = true })
		return 1
	}, KeepAlive(), AutoDispose())
	s := NewScope()
	defer s.Dispose()

	sub := Observe(s, p, nil)
	sub.Close()
	if disposed {
		t.Error("keep-alive instance was disposed")
	}
	if !s.Contains(p) {
		t.Error("keep-alive instance is gone")
	}
}

func TestScopeKeepAliveAndCancel(t *testing.T) {
	disposed := false
	p := New("held", func(r *Ref) int {
		r.OnDispose(func() { disposed = true })
		return 1
	}, AutoDispose())
	s := NewScope()
	defer s.Dispose()

	if err := s.KeepAlive(p); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	sub := Observe(s, p, nil)
	sub.Close()
	if disposed {
		t.Fatal("pinned instance disposed when observer left")
	}

	s.CancelKeepAlive(p)
	if !disposed {
		t.Error("instance survived after the pin was cancelled with no observers")
	}
}

func TestRefKeepAlivePinsFromFactory(t *testing.T) {
	disposed := false
	p := New("self-pinned", func(r *Ref) int {
		r.KeepAlive()
		r.OnDispose(func() { disposed = true })
		return 1
	}, AutoDispose())
	s := NewScope()
	defer s.Dispose()

	Read(s, p)
	if disposed {
		t.Error("factory-pinned instance disposed at batch end")
	}
	if !s.Contains(p) {
		t.Error("factory-pinned instance is gone")
	}
}

func TestDisposersRunInReverseOrder(t *testing.T) {
	var order []string
	p := New("layered", func(r *Ref) int {
		r.OnDispose(func() { order = append(order, "first") })
		r.OnDispose(func() { order = append(order, "second") })
		return 1
	})
	s := NewScope()
	Read(s, p)
	s.Dispose()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("disposer order = %v, want [second first]", order)
	}
}

func TestDisposersResetOnRecomputation(t *testing.T) {
	var order []string
	count := NewState("gen", 1)
	p := New("regenerating", func(r *Ref) int {
		g := Watch(r, count)
		r.OnDispose(func() { order = append(order, "cleanup") })
		return g
	})
	s := NewScope()
	Read(s, p)
	Set(s, count, 2) // recomputation runs the previous generation's disposers
	if len(order) != 1 {
		t.Fatalf("disposers after recomputation = %v, want one cleanup", order)
	}
	s.Dispose()
	if len(order) != 2 {
		t.Errorf("disposers after scope dispose = %v, want two cleanups", order)
	}
}

func TestDependentKeepsProducerAlive(t *testing.T) {
	var disposals []string
	producer := New("producer", func(r *Ref) int {
		r.OnDispose(func() { disposals = append(disposals, "producer") })
		return 1
	}, AutoDispose())
	consumer := New("consumer", func(r *Ref) int {
		r.OnDispose(func() { disposals = append(disposals, "consumer") })
		return Watch(r, producer) + 1
	}, AutoDispose())
	s := NewScope()
	defer s.Dispose()

	sub := Observe(s, consumer, nil)
	if !s.Contains(producer) {
		t.Fatal("producer not instantiated through consumer")
	}
	if len(disposals) != 0 {
		t.Fatalf("premature disposals: %v", disposals)
	}

	// releasing the consumer cascades: consumer goes first, then the
	// producer it was holding
	sub.Close()
	if len(disposals) != 2 || disposals[0] != "consumer" || disposals[1] != "producer" {
		t.Errorf("disposals = %v, want [consumer producer]", disposals)
	}
}

func TestScopeDisposeReleasesEverything(t *testing.T) {
	var order []string
	a := New("alpha", func(r *Ref) int {
		r.OnDispose(func() { order = append(order, "alpha") })
		return 1
	})
	b := New("beta", func(r *Ref) int {
		r.OnDispose(func() { order = append(order, "beta") })
		return Watch(r, a) + 1
	})
	s := NewScope()
	Read(s, b)

	s.Dispose()
	// reverse creation order: beta was created after alpha finished
	if len(order) != 2 || order[0] != "beta" || order[1] != "alpha" {
		t.Errorf("dispose order = %v, want [beta alpha]", order)
	}
	if !s.Disposed() {
		t.Error("scope does not report disposed")
	}
}

func TestScopeDisposeIsIdempotent(t *testing.T) {
	runs := 0
	s := NewScope()
	s.OnDispose(func() { runs++ })
	s.Dispose()
	s.Dispose()
	if runs != 1 {
		t.Errorf("OnDispose ran %d times, want 1", runs)
	}
}

func TestScopeOnDisposeRunsLIFO(t *testing.T) {
	var order []string
	s := NewScope()
	s.OnDispose(func() { order = append(order, "first") })
	s.OnDispose(func() { order = append(order, "second") })
	s.Dispose()
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("order = %v, want [second first]", order)
	}
}

func TestChildScopesDisposeBeforeParentInstances(t *testing.T) {
	var order []string
	p := New("parent-owned", func(r *Ref) int {
		r.OnDispose(func() { order = append(order, "parent-owned") })
		return 1
	})
	parent := NewScope()
	child := parent.NewChild(WithLabel("child"))
	child.OnDispose(func() { order = append(order, "child-hook") })
	Read(parent, p)

	parent.Dispose()
	if len(order) != 2 || order[0] != "child-hook" || order[1] != "parent-owned" {
		t.Errorf("order = %v, want [child-hook parent-owned]", order)
	}
	if !child.Disposed() {
		t.Error("child not disposed with parent")
	}
}

func TestUseAfterDisposeFails(t *testing.T) {
	silenceErrors(t)
	p := New("late", func(r *Ref) int { return 1 })
	s := NewScope()
	s.Dispose()

	_, err := TryRead(s, p)
	if err == nil {
		t.Fatal("read on a disposed scope succeeded")
	}
	var se *currenterrors.StateError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StateError", err)
	}
	if se.Kind != currenterrors.KindLifecycle {
		t.Errorf("kind = %v, want %v", se.Kind, currenterrors.KindLifecycle)
	}

	if sub := Observe(s, p, func(int) {}); sub != nil {
		t.Error("Observe on a disposed scope returned a live subscription")
	}
}

func TestNewChildOnDisposedParent(t *testing.T) {
	silenceErrors(t)
	s := NewScope()
	s.Dispose()
	if child := s.NewChild(); child != nil {
		t.Error("NewChild on a disposed scope returned a scope")
	}
}

func TestPanickingDisposerDoesNotStopOthers(t *testing.T) {
	silenceErrors(t)
	var order []string
	p := New("fragile", func(r *Ref) int {
		r.OnDispose(func() { order = append(order, "survivor") })
		r.OnDispose(func() { panic("disposer boom") })
		return 1
	})
	s := NewScope()
	Read(s, p)
	s.Dispose()
	if len(order) != 1 || order[0] != "survivor" {
		t.Errorf("order = %v, want [survivor]", order)
	}
}

func TestDisposeCallbackStateIsFinal(t *testing.T) {
	count := NewState("final", 1)
	var seen int
	p := New("witness", func(r *Ref) int {
		v := Watch(r, count)
		r.OnDispose(func() { seen = v })
		return v
	})
	s := NewScope()
	Read(s, p)
	Set(s, count, 7)
	Read(s, p)
	s.Dispose()
	if seen != 7 {
		t.Errorf("disposer captured %d, want the final generation's 7", seen)
	}
}
