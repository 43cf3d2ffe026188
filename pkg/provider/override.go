package provider

import "context"

// Override redirects one provider identity to a replacement definition
// within a scope. The replacement keeps the identity, equality, and
// lifecycle flags of the original; only the way the value is produced
// changes. Any node that transitively reads an overridden provider from
// inside the overriding scope gets its own instance there, so ancestor
// scopes never see overridden values.
type Override struct {
	id  Identity
	def *definition
}

// Identity returns the identity being overridden.
func (o Override) Identity() Identity { return o.id }

func cloneDefinition(d *definition) *definition {
	c := *d
	return &c
}

// OverrideValue replaces a derived provider with a constant.
func OverrideValue[T any](p Provider[T], value T) Override {
	d := cloneDefinition(p.d)
	d.factory = func(*Ref) any { return value }
	return Override{id: d.id, def: d}
}

// OverrideWith replaces a derived provider's factory.
func OverrideWith[T any](p Provider[T], factory func(r *Ref) T) Override {
	d := cloneDefinition(p.d)
	d.factory = func(r *Ref) any { return factory(r) }
	return Override{id: d.id, def: d}
}

// OverrideState replaces the seed of a state provider. Reads before any
// mutation, and resets caused by invalidation, use the new seed.
func OverrideState[T any](p StateProvider[T], initial T) Override {
	d := cloneDefinition(p.d)
	d.seed = func() any { return initial }
	return Override{id: d.id, def: d}
}

// OverrideAsync replaces an asynchronous provider's factory.
func OverrideAsync[T any](p AsyncProvider[T], factory func(ctx context.Context, r *Ref) (T, error)) Override {
	d := cloneDefinition(p.d)
	d.asyncFn = func(ctx context.Context, r *Ref) (any, error) {
		return factory(ctx, r)
	}
	d.immediate = nil
	return Override{id: d.id, def: d}
}

// OverrideAsyncValue replaces an asynchronous provider with an already
// settled data value. No task is launched and no loading state is observed,
// which makes async pipelines deterministic in tests.
func OverrideAsyncValue[T any](p AsyncProvider[T], value T) Override {
	d := cloneDefinition(p.d)
	d.asyncFn = nil
	d.immediate = &asyncState{tag: AsyncData, value: value, hasData: true}
	return Override{id: d.id, def: d}
}

// OverrideAsyncError replaces an asynchronous provider with an already
// settled error value.
func OverrideAsyncError[T any](p AsyncProvider[T], err error) Override {
	d := cloneDefinition(p.d)
	d.asyncFn = nil
	d.immediate = &asyncState{tag: AsyncError, err: err}
	return Override{id: d.id, def: d}
}

// OverrideNotifier replaces the constructor of a notifier provider, letting
// tests substitute a notifier with canned behavior.
func OverrideNotifier[T any, N Notifier[T]](p NotifierProvider[T, N], create func() N) Override {
	d := cloneDefinition(p.d)
	d.newNtf = func() any { return create() }
	return Override{id: d.id, def: d}
}
