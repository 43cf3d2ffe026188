package providertest

import (
	"sync"

	"github.com/go-drift/current/pkg/provider"
)

// Recorder is an Observer that captures every runtime event for later
// assertions. The runtime delivers events while holding its gate; tests
// read from their own goroutine, so all access is mutex-guarded.
type Recorder struct {
	mu            sync.Mutex
	created       []provider.Event
	updated       []provider.Event
	errored       []provider.Event
	disposed      []provider.Event
	discarded     []provider.Event
	scopesCreated []provider.ScopeEvent
	scopesClosed  []provider.ScopeEvent
	batches       []provider.BatchEvent
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) NodeCreated(e provider.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, e)
}

func (r *Recorder) NodeUpdated(e provider.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, e)
}

func (r *Recorder) NodeError(e provider.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errored = append(r.errored, e)
}

func (r *Recorder) NodeDisposed(e provider.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = append(r.disposed, e)
}

func (r *Recorder) ResultDiscarded(e provider.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, e)
}

func (r *Recorder) ScopeCreated(e provider.ScopeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopesCreated = append(r.scopesCreated, e)
}

func (r *Recorder) ScopeDisposed(e provider.ScopeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopesClosed = append(r.scopesClosed, e)
}

func (r *Recorder) BatchFinished(e provider.BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, e)
}

// Created returns the NodeCreated events seen so far.
func (r *Recorder) Created() []provider.Event { return r.copyEvents(&r.created) }

// Updated returns the NodeUpdated events seen so far.
func (r *Recorder) Updated() []provider.Event { return r.copyEvents(&r.updated) }

// Errors returns the NodeError events seen so far.
func (r *Recorder) Errors() []provider.Event { return r.copyEvents(&r.errored) }

// Disposed returns the NodeDisposed events seen so far.
func (r *Recorder) Disposed() []provider.Event { return r.copyEvents(&r.disposed) }

// Discarded returns the ResultDiscarded events seen so far.
func (r *Recorder) Discarded() []provider.Event { return r.copyEvents(&r.discarded) }

// ScopesCreated returns the ScopeCreated events seen so far.
func (r *Recorder) ScopesCreated() []provider.ScopeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.ScopeEvent(nil), r.scopesCreated...)
}

// ScopesDisposed returns the ScopeDisposed events seen so far.
func (r *Recorder) ScopesDisposed() []provider.ScopeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.ScopeEvent(nil), r.scopesClosed...)
}

// Batches returns the BatchFinished events seen so far.
func (r *Recorder) Batches() []provider.BatchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.BatchEvent(nil), r.batches...)
}

// UpdatesFor returns the NodeUpdated events for the named provider, in
// delivery order.
func (r *Recorder) UpdatesFor(name string) []provider.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []provider.Event
	for _, e := range r.updated {
		if e.Provider == name {
			out = append(out, e)
		}
	}
	return out
}

// DisposedNames returns the provider names from NodeDisposed events, in
// delivery order.
func (r *Recorder) DisposedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.disposed))
	for i, e := range r.disposed {
		out[i] = e.Provider
	}
	return out
}

// Reset discards every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = nil
	r.updated = nil
	r.errored = nil
	r.disposed = nil
	r.discarded = nil
	r.scopesCreated = nil
	r.scopesClosed = nil
	r.batches = nil
}

func (r *Recorder) copyEvents(src *[]provider.Event) []provider.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.Event(nil), *src...)
}
