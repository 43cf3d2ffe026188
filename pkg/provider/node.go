package provider

import (
	"context"
	"sync/atomic"
)

// snapshot is one immutable published result of a node. The node swaps the
// pointer under the runtime gate; readers that only need the latest value
// load it atomically without taking the gate.
type snapshot struct {
	// value holds the payload for sync kinds, or an asyncState for async
	// kinds. It is nil when err is set.
	value any
	err   error
}

// node is a live instance of a definition inside a scope tree. All fields
// except value are guarded by the runtime gate.
type node struct {
	def    *definition
	home   *Scope // owning scope, fixed at creation
	origin *Scope // scope the first read came through; resolution base for late watches
	seq    uint64 // creation sequence inside home, for reverse-order disposal

	value atomic.Pointer[snapshot]

	// deps and dependents are exact inverses: p is in n.deps iff n is in
	// p.dependents. Both are rebuilt atomically with each recomputation.
	deps       map[*node]struct{}
	dependents map[*node]struct{}

	observers    map[uint64]*subscription
	nextObserver uint64

	// generation counts factory invocations. Async completions carry the
	// generation they were started with and are discarded on mismatch.
	generation uint64
	cancel     context.CancelFunc

	// notifier is the long-lived Notifier object for kindNotifier nodes.
	notifier any

	disposers []func()

	pinned    bool // keepAlive, from the definition or a runtime pin
	computing bool // factory in progress, used for cycle detection
	stale     bool // invalidated in the current batch, not yet recomputed
	batchMark uint64
	disposed  bool

	// cachedIn tracks scopes whose resolution cache points at this node so
	// disposal can evict the entries.
	cachedIn []*Scope
}

func (n *node) snap() *snapshot { return n.value.Load() }

func (n *node) name() string { return n.def.id.name }

// observerCount is the number of external observers. Dependent nodes are
// tracked separately and also keep an auto-dispose node alive.
func (n *node) observerCount() int { return len(n.observers) }

func (n *node) addDisposer(fn func()) {
	n.disposers = append(n.disposers, fn)
}

// takeDisposers returns the registered dispose callbacks in last-in
// first-out order and clears the list.
func (n *node) takeDisposers() []func() {
	ds := n.disposers
	n.disposers = nil
	for i, j := 0, len(ds)-1; i < j; i, j = i+1, j-1 {
		ds[i], ds[j] = ds[j], ds[i]
	}
	return ds
}

// equalSnapshots decides whether a recomputation changed the node's value.
// Error results never compare equal, so failures always propagate.
func equalSnapshots(def *definition, old, next *snapshot) bool {
	if old == nil || next == nil {
		return false
	}
	if old.err != nil || next.err != nil {
		return false
	}
	if def.kind == kindAsync {
		oa, ook := old.value.(asyncState)
		na, nok := next.value.(asyncState)
		return ook && nok && asyncEqual(oa, na, def.equal)
	}
	return def.equal(old.value, next.value)
}

// notifierHandle is the runtime-side endpoint a NotifierBase talks to.
type notifierHandle struct {
	rt *runtime
	n  *node
}

func (h *notifierHandle) current() (any, bool) {
	s := h.n.snap()
	if s == nil || s.err != nil {
		return nil, false
	}
	return s.value, true
}

func (h *notifierHandle) set(v any) {
	h.rt.setValue("notifier.set", h.n, v)
}
