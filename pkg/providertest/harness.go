// Package providertest provides a test harness for provider-based code.
//
// Create a harness, read providers through its scope, and assert on the
// events its recorder captured:
//
//	func TestCounter(t *testing.T) {
//	    h := providertest.NewHarnessWithT(t)
//
//	    provider.Set(h.Scope(), counter, 5)
//
//	    if got := provider.Read(h.Scope(), doubled); got != 10 {
//	        t.Errorf("doubled = %d, want 10", got)
//	    }
//	    if len(h.Recorder().Updated()) != 2 {
//	        t.Error("expected counter and doubled to update")
//	    }
//	}
//
// For asynchronous providers, Settle blocks until every in-flight factory
// has published or discarded its result:
//
//	provider.Read(h.Scope(), remoteUser)
//	if err := h.Settle(5 * time.Second); err != nil {
//	    t.Fatal(err)
//	}
package providertest

import (
	"errors"
	"testing"
	"time"

	"github.com/go-drift/current/pkg/provider"
)

// ErrSettleTimeout is returned when Settle exceeds its timeout.
var ErrSettleTimeout = errors.New("Settle timed out: async computations still in flight")

// Harness bundles a root scope with a recording observer for provider
// tests. Providers read through the harness scope are isolated from every
// other harness.
type Harness struct {
	scope *provider.Scope
	rec   *Recorder
}

// NewHarness creates a harness with a fresh root scope and an attached
// Recorder. Call Cleanup() when done, or use NewHarnessWithT() instead.
func NewHarness(opts ...provider.ScopeOption) *Harness {
	rec := NewRecorder()
	base := []provider.ScopeOption{
		provider.WithLabel("harness"),
		provider.WithObserver(rec),
	}
	return &Harness{
		scope: provider.NewScope(append(base, opts...)...),
		rec:   rec,
	}
}

// NewHarnessWithT creates a harness that auto-cleans up via t.Cleanup().
// This is the recommended constructor for tests.
func NewHarnessWithT(t *testing.T, opts ...provider.ScopeOption) *Harness {
	h := NewHarness(opts...)
	t.Cleanup(h.Cleanup)
	return h
}

// Cleanup disposes the harness scope and everything created under it.
// Must be called if not using NewHarnessWithT.
func (h *Harness) Cleanup() {
	h.scope.Dispose()
}

// Scope returns the harness root scope.
func (h *Harness) Scope() *provider.Scope {
	return h.scope
}

// Recorder returns the observer attached to the harness scope.
func (h *Harness) Recorder() *Recorder {
	return h.rec
}

// Child creates a child scope of the harness root, typically to apply
// overrides. It is disposed with the harness.
func (h *Harness) Child(opts ...provider.ScopeOption) *provider.Scope {
	return h.scope.NewChild(opts...)
}

// Settle polls until no asynchronous computation is in flight or the
// timeout is reached. When Settle returns nil, every async result has been
// published or discarded and its notifications delivered.
func (h *Harness) Settle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for h.scope.PendingAsync() > 0 {
		if time.Now().After(deadline) {
			return ErrSettleTimeout
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Wait polls cond until it returns true or the timeout elapses, and
// reports whether the condition was met.
func Wait(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
