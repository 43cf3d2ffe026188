package provider

import (
	"context"
	"fmt"
	"sync"
)

// Family derives one provider per parameter value from a single parameterized
// factory. Calls to For with equal parameters return the same handle, so the
// derived identity is stable for the life of the process.
type Family[P comparable, T any] struct {
	name    string
	factory func(r *Ref, param P) T
	opts    []Option

	mu       sync.Mutex
	children map[P]Provider[T]
}

// NewFamily declares a parameterized family of derived providers. Options
// apply to every derived provider.
func NewFamily[P comparable, T any](name string, factory func(r *Ref, param P) T, opts ...Option) *Family[P, T] {
	return &Family[P, T]{
		name:     name,
		factory:  factory,
		opts:     opts,
		children: map[P]Provider[T]{},
	}
}

// Name returns the family's debug name. Derived providers append their
// parameter, e.g. "todo[3]".
func (f *Family[P, T]) Name() string { return f.name }

// For returns the provider derived for param, creating and memoizing it on
// first use.
func (f *Family[P, T]) For(param P) Provider[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.children[param]; ok {
		return p
	}
	p := New(fmt.Sprintf("%s[%v]", f.name, param), func(r *Ref) T {
		return f.factory(r, param)
	}, f.opts...)
	f.children[param] = p
	return p
}

// Len returns how many derived providers exist.
func (f *Family[P, T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.children)
}

// AsyncFamily is the asynchronous counterpart of Family: one AsyncProvider
// per parameter value, memoized by parameter.
type AsyncFamily[P comparable, T any] struct {
	name    string
	factory func(ctx context.Context, r *Ref, param P) (T, error)
	opts    []Option

	mu       sync.Mutex
	children map[P]AsyncProvider[T]
}

// NewAsyncFamily declares a parameterized family of asynchronous providers.
func NewAsyncFamily[P comparable, T any](name string, factory func(ctx context.Context, r *Ref, param P) (T, error), opts ...Option) *AsyncFamily[P, T] {
	return &AsyncFamily[P, T]{
		name:     name,
		factory:  factory,
		opts:     opts,
		children: map[P]AsyncProvider[T]{},
	}
}

// Name returns the family's debug name.
func (f *AsyncFamily[P, T]) Name() string { return f.name }

// For returns the async provider derived for param, creating and memoizing
// it on first use.
func (f *AsyncFamily[P, T]) For(param P) AsyncProvider[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.children[param]; ok {
		return p
	}
	p := NewAsync(fmt.Sprintf("%s[%v]", f.name, param), func(ctx context.Context, r *Ref) (T, error) {
		return f.factory(ctx, r, param)
	}, f.opts...)
	f.children[param] = p
	return p
}

// Len returns how many derived providers exist.
func (f *AsyncFamily[P, T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.children)
}
