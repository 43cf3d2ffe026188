package providertest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-drift/current/pkg/provider"
)

func TestHarness_IsolatesScopes(t *testing.T) {
	counter := provider.NewState("pt-counter", 0)

	a := NewHarnessWithT(t)
	b := NewHarnessWithT(t)

	provider.Set(a.Scope(), counter, 5)

	if got := provider.Read(a.Scope(), counter); got != 5 {
		t.Errorf("harness a counter = %d, want 5", got)
	}
	if got := provider.Read(b.Scope(), counter); got != 0 {
		t.Errorf("harness b counter = %d, want 0", got)
	}
}

func TestHarness_RecordsEvents(t *testing.T) {
	count := provider.NewState("pt-count", 1)
	doubled := provider.New("pt-doubled", func(r *provider.Ref) int {
		return provider.Watch(r, count) * 2
	})

	h := NewHarnessWithT(t)

	if got := provider.Read(h.Scope(), doubled); got != 2 {
		t.Fatalf("doubled = %d, want 2", got)
	}
	provider.Set(h.Scope(), count, 3)

	rec := h.Recorder()
	if got := len(rec.Created()); got != 2 {
		t.Errorf("created events = %d, want 2", got)
	}
	if got := len(rec.ScopesCreated()); got != 1 {
		t.Errorf("scope created events = %d, want 1", got)
	}

	ups := rec.UpdatesFor("pt-doubled")
	if len(ups) != 1 {
		t.Fatalf("updates for pt-doubled = %d, want 1", len(ups))
	}
	if got, ok := ups[0].New.(int); !ok || got != 6 {
		t.Errorf("updated value = %v, want 6", ups[0].New)
	}

	if got := len(rec.Batches()); got != 1 {
		t.Errorf("batch events = %d, want 1", got)
	}

	rec.Reset()
	if len(rec.Updated()) != 0 || len(rec.Created()) != 0 {
		t.Error("Reset did not clear recorded events")
	}
}

func TestHarness_RecordsDisposal(t *testing.T) {
	leaf := provider.NewState("pt-leaf", 1)

	h := NewHarness()
	provider.Read(h.Scope(), leaf)
	h.Cleanup()

	names := h.Recorder().DisposedNames()
	if len(names) != 1 || names[0] != "pt-leaf" {
		t.Errorf("disposed names = %v, want [pt-leaf]", names)
	}
	if got := len(h.Recorder().ScopesDisposed()); got != 1 {
		t.Errorf("scope disposed events = %d, want 1", got)
	}
}

func TestHarness_ChildOverrides(t *testing.T) {
	backend := provider.New("pt-backend", func(r *provider.Ref) string {
		return "real"
	})

	h := NewHarnessWithT(t)
	child := h.Child(provider.WithOverrides(provider.OverrideValue(backend, "fake")))

	if got := provider.Read(child, backend); got != "fake" {
		t.Errorf("child backend = %q, want %q", got, "fake")
	}
	if got := provider.Read(h.Scope(), backend); got != "real" {
		t.Errorf("root backend = %q, want %q", got, "real")
	}
}

func TestSettle_WaitsForAsyncResults(t *testing.T) {
	release := make(chan struct{})
	slow := provider.NewAsync("pt-slow", func(ctx context.Context, r *provider.Ref) (int, error) {
		<-release
		return 42, nil
	})

	h := NewHarnessWithT(t)

	if av := provider.Read(h.Scope(), slow); !av.IsLoading() {
		t.Fatalf("initial read = %v, want Loading", av)
	}

	close(release)
	if err := h.Settle(5 * time.Second); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	got, ok := provider.Read(h.Scope(), slow).Data()
	if !ok || got != 42 {
		t.Errorf("settled value = %d (ok=%v), want 42", got, ok)
	}
}

func TestSettle_Timeout(t *testing.T) {
	block := make(chan struct{})
	stuck := provider.NewAsync("pt-stuck", func(ctx context.Context, r *provider.Ref) (int, error) {
		<-block
		return 0, nil
	})

	h := NewHarnessWithT(t)
	provider.Read(h.Scope(), stuck)

	if err := h.Settle(20 * time.Millisecond); !errors.Is(err, ErrSettleTimeout) {
		t.Fatalf("Settle error = %v, want ErrSettleTimeout", err)
	}

	// Unblock and drain so cleanup does not race the factory.
	close(block)
	if err := h.Settle(5 * time.Second); err != nil {
		t.Fatalf("Settle after unblock: %v", err)
	}
}

func TestWait(t *testing.T) {
	var flag atomic.Bool
	go func() {
		time.Sleep(5 * time.Millisecond)
		flag.Store(true)
	}()

	if !Wait(5*time.Second, flag.Load) {
		t.Error("Wait gave up on a condition that becomes true")
	}
	if Wait(10*time.Millisecond, func() bool { return false }) {
		t.Error("Wait reported success for a condition that never holds")
	}
}
