package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// Scope is a container for node instances. Scopes form a tree: a child sees
// every instance of its ancestors unless an override redirects an identity,
// in which case the child materializes its own instances for the overridden
// provider and for any provider that transitively reads it.
//
// All scopes in one tree share a single runtime gate, so mutations anywhere
// in the tree are serialized.
type Scope struct {
	rt     *runtime
	id     uuid.UUID
	label  string
	parent *Scope
	depth  int

	ctx    context.Context
	cancel context.CancelFunc

	children []*Scope

	// overrides redirect identities to replacement definitions. The map is
	// sealed once the scope has resolved its first instance.
	overrides map[Identity]*definition

	// instances holds nodes homed in this scope; resolution caches the
	// outcome of resolving an identity from this scope, including instances
	// homed in ancestors.
	instances  map[Identity]*node
	resolution map[Identity]*node

	// created preserves instance creation order for reverse-order disposal.
	created []*node

	onDispose []func()

	used     bool
	disposed bool
}

// ScopeOption configures a scope at construction time.
type ScopeOption func(*scopeConfig)

type scopeConfig struct {
	label     string
	overrides []Override
	observers []Observer
}

// WithLabel attaches a debug label to the scope. Labels appear in observer
// events and graph exports.
func WithLabel(label string) ScopeOption {
	return func(c *scopeConfig) { c.label = label }
}

// WithOverrides registers overrides on the new scope. Overrides must be in
// place before the scope resolves its first instance.
func WithOverrides(ovs ...Override) ScopeOption {
	return func(c *scopeConfig) { c.overrides = append(c.overrides, ovs...) }
}

// WithObserver registers an observer for the scope tree's runtime.
func WithObserver(o Observer) ScopeOption {
	return func(c *scopeConfig) { c.observers = append(c.observers, o) }
}

// NewScope creates the root of a new scope tree with its own runtime gate.
func NewScope(opts ...ScopeOption) *Scope {
	var cfg scopeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	rt := newRuntime()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scope{
		rt:         rt,
		id:         uuid.New(),
		label:      cfg.label,
		ctx:        ctx,
		cancel:     cancel,
		overrides:  map[Identity]*definition{},
		instances:  map[Identity]*node{},
		resolution: map[Identity]*node{},
	}
	rt.root = s
	for _, ov := range cfg.overrides {
		s.overrides[ov.id] = ov.def
	}
	for _, o := range cfg.observers {
		rt.addObserver(o)
	}
	rt.emitScope(func(o Observer, e ScopeEvent) { o.ScopeCreated(e) }, s)
	return s
}

// NewChild creates a scope nested under s. The child shares the parent's
// runtime gate and sees ancestor instances except where overridden.
func (s *Scope) NewChild(opts ...ScopeOption) *Scope {
	var cfg scopeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	child := &Scope{
		rt:         s.rt,
		id:         uuid.New(),
		label:      cfg.label,
		parent:     s,
		depth:      s.depth + 1,
		overrides:  map[Identity]*definition{},
		instances:  map[Identity]*node{},
		resolution: map[Identity]*node{},
	}
	for _, ov := range cfg.overrides {
		child.overrides[ov.id] = ov.def
	}
	err := s.rt.withGate("scope.child", func() error {
		if s.disposed {
			return &currenterrors.StateError{
				Op:   "scope.child",
				Kind: currenterrors.KindLifecycle,
				Err:  fmt.Errorf("scope %s is disposed", s.id),
			}
		}
		child.ctx, child.cancel = context.WithCancel(s.ctx)
		s.children = append(s.children, child)
		return nil
	})
	if err != nil {
		return nil
	}
	for _, o := range cfg.observers {
		s.rt.addObserver(o)
	}
	s.rt.emitScope(func(o Observer, e ScopeEvent) { o.ScopeCreated(e) }, child)
	return child
}

// ID returns the scope's unique id.
func (s *Scope) ID() uuid.UUID { return s.id }

// Label returns the debug label, which may be empty.
func (s *Scope) Label() string { return s.label }

// Parent returns the parent scope, or nil for the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Root returns the root of the scope tree.
func (s *Scope) Root() *Scope { return s.rt.root }

// Disposed reports whether the scope has been disposed.
func (s *Scope) Disposed() bool {
	var d bool
	s.rt.withGate("scope.disposed", func() error {
		d = s.disposed
		return nil
	})
	return d
}

// Override registers additional overrides on the scope. It fails once the
// scope has resolved an instance, because reparenting live state would
// violate resolution stability.
func (s *Scope) Override(ovs ...Override) error {
	return s.rt.withGate("scope.override", func() error {
		if s.disposed {
			return &currenterrors.StateError{
				Op:   "scope.override",
				Kind: currenterrors.KindLifecycle,
				Err:  fmt.Errorf("scope %s is disposed", s.id),
			}
		}
		if s.used {
			err := &currenterrors.StateError{
				Op:   "scope.override",
				Kind: currenterrors.KindConfig,
				Err:  fmt.Errorf("scope %s already resolved instances; overrides are fixed at first use", s.id),
			}
			currenterrors.Report(err)
			return err
		}
		for _, ov := range ovs {
			s.overrides[ov.id] = ov.def
		}
		return nil
	})
}

// OnDispose registers fn to run when the scope is disposed. Callbacks run in
// reverse registration order, after the scope's nodes have been torn down.
func (s *Scope) OnDispose(fn func()) {
	if fn == nil {
		return
	}
	s.rt.withGate("scope.ondispose", func() error {
		if s.disposed {
			return nil
		}
		s.onDispose = append(s.onDispose, fn)
		return nil
	})
}

// AddObserver registers an observer for the whole scope tree and returns a
// function that removes it.
func (s *Scope) AddObserver(o Observer) func() {
	return s.rt.addObserver(o)
}

// Dispose tears down the scope: children first in reverse creation order,
// then the scope's own instances in reverse creation order. In-flight
// asynchronous work is cancelled. Disposing the root tears down the tree.
func (s *Scope) Dispose() {
	s.rt.withGate("scope.dispose", func() error {
		s.rt.disposeScopeLocked(s)
		return nil
	})
}

// Batch runs fn while holding the runtime gate and coalesces every mutation
// made inside fn into a single invalidation pass. Observers are notified at
// most once per node, and lifecycle decisions are deferred to the end of the
// batch, so releasing and re-acquiring a node inside fn does not tear it
// down.
func (s *Scope) Batch(fn func()) {
	if fn == nil {
		return
	}
	s.rt.userBatch(fn)
}

// KeepAlive pins the provider's instance as resolved from this scope,
// instantiating it if needed. A pinned instance survives dropping to zero
// observers regardless of its auto-dispose setting.
func (s *Scope) KeepAlive(p AnyProvider) error {
	return s.rt.withGate("scope.keepalive", func() error {
		n, err := s.rt.resolve(s, p.def(), true)
		if err != nil {
			return err
		}
		n.pinned = true
		return nil
	})
}

// CancelKeepAlive removes the pin from the provider's instance. If the
// instance is auto-dispose and has no observers or dependents at the end of
// the current batch, it is torn down.
func (s *Scope) CancelKeepAlive(p AnyProvider) error {
	return s.rt.withGate("scope.keepalive", func() error {
		n, err := s.rt.resolve(s, p.def(), false)
		if err != nil || n == nil {
			return err
		}
		n.pinned = false
		s.rt.candidateLocked(n)
		return nil
	})
}

// Invalidate marks the provider's instance dirty and recomputes it and all
// affected dependents in topological order. Invalidating a provider that has
// no instance is a no-op. Invalidating a state provider resets it to its
// seed value.
func (s *Scope) Invalidate(p AnyProvider) {
	s.rt.withGate("scope.invalidate", func() error {
		n, err := s.rt.resolve(s, p.def(), false)
		if err != nil || n == nil {
			return err
		}
		s.rt.markPending(n)
		return nil
	})
}

// Contains reports whether resolving p from this scope would reuse an
// existing live instance.
func (s *Scope) Contains(p AnyProvider) bool {
	var found bool
	s.rt.withGate("scope.contains", func() error {
		found = s.peek(p.def().id) != nil
		return nil
	})
	return found
}

// ReadAny reads the provider registered under id, returning its public value
// (T for sync kinds, an AsyncValue for async kinds). It is the identity-keyed
// form of Read used by tooling that has no typed handle.
func (s *Scope) ReadAny(id Identity) (any, error) {
	var out any
	err := s.rt.withGate("provider.read", func() error {
		base, ok := lookupDefinition(id)
		if !ok {
			return &currenterrors.StateError{
				Op:   "provider.read",
				Kind: currenterrors.KindConfig,
				Err:  fmt.Errorf("unknown provider identity %s", id),
			}
		}
		n, err := s.rt.resolve(s, base, true)
		if err != nil {
			return err
		}
		snap := n.snap()
		if snap != nil && snap.err != nil {
			return snap.err
		}
		out = n.def.view(snap)
		return nil
	})
	return out, err
}

// Preload instantiates the given providers and, for asynchronous ones, waits
// until each settles. It returns the first settle error, cancelling the
// remaining waits.
func (s *Scope) Preload(ctx context.Context, providers ...AnyProvider) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		def := p.def()
		g.Go(func() error {
			snap, err := s.rt.awaitNode(gctx, s, def)
			if err != nil {
				return err
			}
			if snap.err != nil {
				return snap.err
			}
			if st, ok := snap.value.(asyncState); ok && st.tag == AsyncError {
				return st.err
			}
			return nil
		})
	}
	return g.Wait()
}

// PendingAsync returns the number of asynchronous factory invocations whose
// results have not yet been applied or discarded.
func (s *Scope) PendingAsync() int {
	return int(s.rt.inflight.Load())
}

func (s *Scope) refInfo() ScopeRef {
	return ScopeRef{ID: s.id, Label: s.label}
}
