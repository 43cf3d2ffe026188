package provider

import (
	"context"
	"reflect"
)

type nodeKind uint8

const (
	kindSync nodeKind = iota
	kindAsync
	kindState
	kindNotifier
)

func (k nodeKind) String() string {
	switch k {
	case kindSync:
		return "provider"
	case kindAsync:
		return "async"
	case kindState:
		return "state"
	case kindNotifier:
		return "notifier"
	default:
		return "unknown"
	}
}

// definition is the immutable recipe behind a provider handle: identity,
// factory, equality, and lifecycle flags. Overrides clone a definition and
// swap the factory while keeping the identity, so a node instance always
// points at the exact definition it was built from.
type definition struct {
	id          Identity
	kind        nodeKind
	keepAlive   bool
	autoDispose bool

	// equal compares two settled payloads to decide whether a recomputation
	// actually changed the value. For async definitions it compares the data
	// arm payloads, never whole AsyncValue wrappers.
	equal func(a, b any) bool

	factory func(r *Ref) any                                 // kindSync
	asyncFn func(ctx context.Context, r *Ref) (any, error)   // kindAsync
	seed    func() any                                       // kindState
	newNtf  func() any                                       // kindNotifier
	buildFn func(notifier any, r *Ref) any                   // kindNotifier
	// immediate short-circuits an async definition to a settled snapshot
	// without launching a task. Used by value overrides in tests.
	immediate *asyncState

	// view converts a stored snapshot into the public value for this
	// definition: T for sync kinds, AsyncValue[T] for async kinds.
	view func(s *snapshot) any
}

// defaultEqual is the equality used when a definition does not supply its
// own: values of the same comparable dynamic type compare with ==, anything
// else is never equal.
func defaultEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Option configures a provider at construction time.
type Option func(*defOptions)

type defOptions struct {
	keepAlive   bool
	autoDispose bool
	equal       func(a, b any) bool
}

// KeepAlive pins every instance of the provider so it survives dropping to
// zero observers. The pin can be released per scope with CancelKeepAlive.
func KeepAlive() Option {
	return func(o *defOptions) { o.keepAlive = true }
}

// AutoDispose marks the provider for teardown at the end of any batch in
// which it has no observers and no dependents, unless it is pinned.
func AutoDispose() Option {
	return func(o *defOptions) { o.autoDispose = true }
}

// WithEquality replaces the default equality used to decide whether a new
// result differs from the previous one. Equal results halt propagation.
func WithEquality[T any](eq func(a, b T) bool) Option {
	return func(o *defOptions) {
		o.equal = func(a, b any) bool {
			av, aok := a.(T)
			bv, bok := b.(T)
			return aok && bok && eq(av, bv)
		}
	}
}

func buildOptions(opts []Option) defOptions {
	var o defOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o defOptions) equalOrDefault() func(a, b any) bool {
	if o.equal != nil {
		return o.equal
	}
	return defaultEqual
}

// AnyProvider is implemented by every provider handle. It grants access to
// identity-keyed operations that do not need the value type, such as
// Invalidate and Preload.
type AnyProvider interface {
	Identity() Identity
	def() *definition
}

// Readable is the constraint satisfied by handles whose value can be read
// as T: Provider[T], StateProvider[T], NotifierProvider[T, N], and
// AsyncProvider[U] with T = AsyncValue[U].
type Readable[T any] interface {
	AnyProvider
	valueType() T
}

func syncView[T any]() func(s *snapshot) any {
	return func(s *snapshot) any {
		if s == nil || s.err != nil {
			var zero T
			return zero
		}
		if v, ok := s.value.(T); ok {
			return v
		}
		var zero T
		return zero
	}
}

func asyncView[T any]() func(s *snapshot) any {
	return func(s *snapshot) any {
		if s == nil {
			return LoadingOf[T]()
		}
		st, ok := s.value.(asyncState)
		if !ok {
			return LoadingOf[T]()
		}
		return asyncViewFor[T](st)
	}
}

// Provider is a handle to a derived, read-only node. Its factory runs lazily
// on first read and again whenever a watched producer changes.
type Provider[T any] struct {
	d *definition
}

// New declares a derived provider. The factory receives a Ref for watching
// other providers and registering lifecycle hooks; it reruns whenever a
// watched producer changes value.
func New[T any](name string, factory func(r *Ref) T, opts ...Option) Provider[T] {
	o := buildOptions(opts)
	d := &definition{
		id:          newIdentity(name),
		kind:        kindSync,
		keepAlive:   o.keepAlive,
		autoDispose: o.autoDispose,
		equal:       o.equalOrDefault(),
		factory:     func(r *Ref) any { return factory(r) },
		view:        syncView[T](),
	}
	registerDefinition(d)
	return Provider[T]{d: d}
}

// Identity returns the provider's stable identity.
func (p Provider[T]) Identity() Identity { return p.d.id }

// Name returns the provider's debug name.
func (p Provider[T]) Name() string { return p.d.id.name }

func (p Provider[T]) def() *definition { return p.d }
func (p Provider[T]) valueType() (zero T) { return }

// AsyncProvider is a handle to a node whose factory runs in its own
// goroutine and settles into an AsyncValue. Reads never block: they return
// the current loading, data, or error state.
type AsyncProvider[T any] struct {
	d *definition
}

// NewAsync declares an asynchronous provider. The factory runs on a fresh
// goroutine per generation; the context is cancelled when the generation is
// superseded or the owning scope is disposed. Watching providers from inside
// the factory is supported and records dependencies for the current
// generation only.
func NewAsync[T any](name string, factory func(ctx context.Context, r *Ref) (T, error), opts ...Option) AsyncProvider[T] {
	o := buildOptions(opts)
	d := &definition{
		id:          newIdentity(name),
		kind:        kindAsync,
		keepAlive:   o.keepAlive,
		autoDispose: o.autoDispose,
		equal:       o.equalOrDefault(),
		asyncFn: func(ctx context.Context, r *Ref) (any, error) {
			return factory(ctx, r)
		},
		view: asyncView[T](),
	}
	registerDefinition(d)
	return AsyncProvider[T]{d: d}
}

// Identity returns the provider's stable identity.
func (p AsyncProvider[T]) Identity() Identity { return p.d.id }

// Name returns the provider's debug name.
func (p AsyncProvider[T]) Name() string { return p.d.id.name }

func (p AsyncProvider[T]) def() *definition { return p.d }
func (p AsyncProvider[T]) valueType() (zero AsyncValue[T]) { return }

// StateProvider is a handle to externally mutable state. It has no tracked
// dependencies; its value changes only through Set, Update, or an
// invalidation that resets it to the seed.
type StateProvider[T any] struct {
	d *definition
}

// NewState declares a mutable state provider seeded with initial. Reading it
// before any mutation yields the seed; invalidating it resets to the seed.
func NewState[T any](name string, initial T, opts ...Option) StateProvider[T] {
	o := buildOptions(opts)
	d := &definition{
		id:          newIdentity(name),
		kind:        kindState,
		keepAlive:   o.keepAlive,
		autoDispose: o.autoDispose,
		equal:       o.equalOrDefault(),
		seed:        func() any { return initial },
		view:        syncView[T](),
	}
	registerDefinition(d)
	return StateProvider[T]{d: d}
}

// Identity returns the provider's stable identity.
func (p StateProvider[T]) Identity() Identity { return p.d.id }

// Name returns the provider's debug name.
func (p StateProvider[T]) Name() string { return p.d.id.name }

func (p StateProvider[T]) def() *definition { return p.d }
func (p StateProvider[T]) valueType() (zero T) { return }

// Notifier is implemented by user types that own a piece of state together
// with the methods that mutate it. Build computes the initial (and any
// rebuilt) state and may watch other providers; mutation methods call
// SetState on the embedded NotifierBase.
type Notifier[T any] interface {
	Build(r *Ref) T
}

// notifierBinder is implemented by NotifierBase via promotion. It is how the
// runtime hands a created notifier its node handle.
type notifierBinder interface {
	bindNotifier(h *notifierHandle)
}

// NotifierBase wires a user notifier to its node. Embed it by value in the
// notifier struct; the runtime binds it when the instance is created.
type NotifierBase[T any] struct {
	h *notifierHandle
}

func (b *NotifierBase[T]) bindNotifier(h *notifierHandle) { b.h = h }

// State returns the node's current value. It reads the latest published
// snapshot and is safe from any goroutine.
func (b *NotifierBase[T]) State() T {
	var zero T
	if b.h == nil {
		return zero
	}
	v, ok := b.h.current()
	if !ok {
		return zero
	}
	if tv, ok := v.(T); ok {
		return tv
	}
	return zero
}

// SetState publishes a new value for the node. Equal values are dropped
// without notifying observers or dependents.
func (b *NotifierBase[T]) SetState(v T) {
	if b.h == nil {
		return
	}
	b.h.set(v)
}

// NotifierProvider is a handle to a node backed by a long-lived Notifier.
// The notifier object is created once per instance; Build reruns on
// invalidation while the object and its method state persist.
type NotifierProvider[T any, N Notifier[T]] struct {
	d *definition
}

// NewNotifier declares a notifier-backed provider. create returns a fresh
// notifier; its embedded NotifierBase is bound before Build runs.
func NewNotifier[T any, N Notifier[T]](name string, create func() N, opts ...Option) NotifierProvider[T, N] {
	o := buildOptions(opts)
	d := &definition{
		id:          newIdentity(name),
		kind:        kindNotifier,
		keepAlive:   o.keepAlive,
		autoDispose: o.autoDispose,
		equal:       o.equalOrDefault(),
		newNtf:      func() any { return create() },
		buildFn: func(notifier any, r *Ref) any {
			return notifier.(N).Build(r)
		},
		view: syncView[T](),
	}
	registerDefinition(d)
	return NotifierProvider[T, N]{d: d}
}

// Identity returns the provider's stable identity.
func (p NotifierProvider[T, N]) Identity() Identity { return p.d.id }

// Name returns the provider's debug name.
func (p NotifierProvider[T, N]) Name() string { return p.d.id.name }

func (p NotifierProvider[T, N]) def() *definition { return p.d }
func (p NotifierProvider[T, N]) valueType() (zero T) { return }
