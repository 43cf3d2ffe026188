package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petermattis/goid"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// errSignal carries a runtime error (cycle, misconfiguration) through panic
// unwinding to the gate boundary, where it becomes a returned error. It never
// escapes the package.
type errSignal struct{ err error }

// propagated carries a producer's error through a consumer's factory. The
// consumer stores the same underlying error, so failures chain through the
// graph without being re-reported at every hop.
type propagated struct{ err error }

type queuedNotify struct {
	sub  *subscription
	snap *snapshot
}

var errReentrantGate = errors.New("runtime gate re-entered from a factory or observer; use the Ref passed to the factory")

// runtime owns the single-writer gate and the batch machinery for one scope
// tree. All graph state is guarded by mu; published snapshots are read
// lock-free through each node's atomic pointer.
type runtime struct {
	mu    sync.Mutex
	owner atomic.Int64 // goroutine id currently holding mu, 0 if none
	root  *Scope

	// userDepth is > 0 while an explicit Batch callback runs, which lets
	// mutations made inside the callback join the open batch instead of
	// tripping the re-entrancy guard.
	userDepth int

	batchSeq      uint64
	batchID       uuid.UUID
	batchStart    time.Time
	active        bool
	pending       map[*node]struct{} // directly invalidated, will recompute
	changed       map[*node]*snapshot // first pre-change snapshot per node
	recomputed    map[*node]struct{}
	checkDispose  []*node
	notifyQ       []queuedNotify
	postCallbacks []func()
	followUp      []func()
	changedCount  int
	disposedCount int

	// computeStack is the chain of factories currently executing on the
	// gate-holding goroutine; it yields the path for cycle errors.
	computeStack []*node

	inflight atomic.Int64

	observers map[uint64]Observer
	obsNext   uint64

	nodeSeq uint64
}

func newRuntime() *runtime {
	return &runtime{
		pending:    map[*node]struct{}{},
		changed:    map[*node]*snapshot{},
		recomputed: map[*node]struct{}{},
		observers:  map[uint64]Observer{},
	}
}

// withGate runs fn while holding the runtime gate, opening a batch around it
// and flushing the batch's deferred work after release. Calling it from a
// goroutine that already holds the gate is a configuration error unless an
// explicit Batch is open, in which case fn joins that batch.
func (rt *runtime) withGate(op string, fn func() error) error {
	g := goid.Get()
	if rt.owner.Load() == g {
		if rt.userDepth > 0 {
			return rt.capture(fn)
		}
		err := &currenterrors.StateError{
			Op:   op,
			Kind: currenterrors.KindConfig,
			Err:  errReentrantGate,
		}
		currenterrors.Report(err)
		return err
	}
	rt.mu.Lock()
	rt.owner.Store(g)
	rt.beginBatch()
	var err error
	var rethrow any
	func() {
		defer func() {
			if r := recover(); r != nil {
				if sig, ok := r.(errSignal); ok {
					err = sig.err
				} else {
					rethrow = r
				}
			}
		}()
		err = fn()
	}()
	post := rt.finishBatch()
	rt.owner.Store(0)
	rt.mu.Unlock()
	for _, f := range post {
		f()
	}
	if rethrow != nil {
		panic(rethrow)
	}
	return err
}

// capture converts errSignal panics into returned errors for gate entries
// that join an already open batch.
func (rt *runtime) capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if sig, ok := r.(errSignal); ok {
				err = sig.err
				return
			}
			panic(r)
		}
	}()
	return fn()
}

// userBatch implements Scope.Batch: the callback runs under the gate with
// userDepth raised so nested scope calls accumulate into this batch.
func (rt *runtime) userBatch(fn func()) {
	rt.withGate("scope.batch", func() error {
		rt.userDepth++
		defer func() { rt.userDepth-- }()
		fn()
		return nil
	})
}

func (rt *runtime) beginBatch() {
	rt.batchSeq++
	rt.batchID = uuid.New()
	rt.batchStart = time.Now()
	rt.active = false
	rt.changedCount = 0
	rt.disposedCount = 0
}

// finishBatch runs the invalidation pass, decides end-of-batch lifecycle,
// and returns the deferred work (dispose callbacks, observer notifications,
// follow-up invalidations) to run after the gate is released.
func (rt *runtime) finishBatch() []func() {
	rt.runPropagate()
	rt.queueNotificationsLocked()
	rt.processDisposalsLocked()

	var post []func()
	post = append(post, rt.postCallbacks...)
	for _, q := range rt.notifyQ {
		post = append(post, func() { q.sub.invoke(q.snap) })
	}
	post = append(post, rt.followUp...)

	if rt.active {
		rt.emitBatch()
	}
	clear(rt.pending)
	clear(rt.changed)
	clear(rt.recomputed)
	rt.checkDispose = rt.checkDispose[:0]
	rt.notifyQ = nil
	rt.postCallbacks = nil
	rt.followUp = nil
	return post
}

// runPropagate shields the gate from cycle signals raised while rebuilding:
// a cycle aborts the rest of the pass but already-settled nodes keep their
// new values, and stale marks from the aborted pass expire with the batch.
func (rt *runtime) runPropagate() {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(errSignal); ok {
				return
			}
			panic(r)
		}
	}()
	rt.propagate()
}

// propagate recomputes every node affected by this batch's invalidations in
// topological order. A node recomputes only if it was directly invalidated
// or at least one of its producers actually changed value; equal results
// halt propagation beyond the node.
func (rt *runtime) propagate() {
	if len(rt.pending) == 0 && len(rt.changed) == 0 {
		return
	}
	affected := map[*node]struct{}{}
	var mark func(n *node)
	mark = func(n *node) {
		if n.disposed {
			return
		}
		if _, ok := affected[n]; ok {
			return
		}
		affected[n] = struct{}{}
		n.stale = true
		n.batchMark = rt.batchSeq
		for d := range n.dependents {
			mark(d)
		}
	}
	for n := range rt.pending {
		mark(n)
	}
	for n := range rt.changed {
		for d := range n.dependents {
			mark(d)
		}
	}
	if len(affected) == 0 {
		return
	}

	// Snapshot the affected-restricted edges up front: recomputation rewires
	// dependency sets mid-pass, and the traversal must not be affected.
	type entry struct {
		outs  []*node
		indeg int
	}
	entries := make(map[*node]*entry, len(affected))
	get := func(n *node) *entry {
		e := entries[n]
		if e == nil {
			e = &entry{}
			entries[n] = e
		}
		return e
	}
	for n := range affected {
		e := get(n)
		for p := range n.deps {
			if _, in := affected[p]; in {
				e.indeg++
				get(p).outs = append(get(p).outs, n)
			}
		}
	}
	queue := make([]*node, 0, len(affected))
	for n := range affected {
		if entries[n].indeg == 0 {
			queue = append(queue, n)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].seq < queue[j].seq })
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		rt.recomputeIfNeeded(n)
		for _, d := range entries[n].outs {
			de := entries[d]
			de.indeg--
			if de.indeg == 0 {
				queue = append(queue, d)
			}
		}
	}
}

// netChanged reports whether n's value differs from what it was when the
// batch first touched it. A value that was set and then set back is not a
// change.
func (rt *runtime) netChanged(n *node) bool {
	old, ok := rt.changed[n]
	if !ok {
		return false
	}
	return !equalSnapshots(n.def, old, n.snap())
}

// settleLocked brings n up to date mid-pass by settling its producers first
// and then recomputing n if anything actually changed. It lets a factory
// that watches a node scheduled later in the topological pass read a final
// value instead of a stale one.
func (rt *runtime) settleLocked(n *node) {
	if n.disposed || !n.stale || n.batchMark != rt.batchSeq {
		return
	}
	if _, done := rt.recomputed[n]; done {
		return
	}
	for p := range n.deps {
		rt.settleLocked(p)
	}
	rt.recomputeIfNeeded(n)
}

func (rt *runtime) recomputeIfNeeded(n *node) {
	if n.disposed {
		n.stale = false
		return
	}
	if _, done := rt.recomputed[n]; done {
		return
	}
	if _, forced := rt.pending[n]; !forced {
		triggered := false
		for p := range n.deps {
			if rt.netChanged(p) {
				triggered = true
				break
			}
		}
		if !triggered {
			n.stale = false
			return
		}
	}
	rt.recomputeNow(n)
}

func (rt *runtime) recomputeNow(n *node) {
	rt.recomputed[n] = struct{}{}
	n.stale = false
	// retire the previous computation before building its replacement
	for _, fn := range n.takeDisposers() {
		runDisposer(fn)
	}
	old := n.snap()
	switch n.def.kind {
	case kindState:
		// invalidation resets externally mutable state to its seed
		n.generation++
		next := &snapshot{value: n.def.seed()}
		n.value.Store(next)
		if !equalSnapshots(n.def, old, next) {
			rt.noteChanged(n, old)
		}
	case kindAsync:
		rt.launchAsync(n, old)
	default:
		next := rt.runFactory(n)
		n.value.Store(next)
		if !equalSnapshots(n.def, old, next) {
			rt.noteChanged(n, old)
		}
	}
}

// runFactory executes a synchronous factory for n, tracking watches through
// a fresh Ref and committing the new dependency set atomically with the
// result. Panics from user code become error snapshots; a producer's error
// read through Watch is adopted as this node's error without re-reporting.
func (rt *runtime) runFactory(n *node) *snapshot {
	n.generation++
	ref := &Ref{
		rt:        rt,
		scope:     n.origin,
		n:         n,
		gen:       n.generation,
		underGate: true,
		live:      true,
		deps:      map[*node]struct{}{},
	}
	rt.computeStack = append(rt.computeStack, n)
	n.computing = true
	defer func() {
		n.computing = false
		rt.computeStack = rt.computeStack[:len(rt.computeStack)-1]
		ref.live = false
	}()
	var value any
	var ferr error
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if _, ok := r.(errSignal); ok {
				panic(r)
			}
			if pe, ok := r.(propagated); ok {
				ferr = pe.err
				return
			}
			fe := &currenterrors.FactoryError{
				Provider:   n.name(),
				Generation: n.generation,
				Recovered:  r,
				StackTrace: currenterrors.CaptureStack(),
			}
			if e, ok := r.(error); ok {
				fe.Err = e
			}
			currenterrors.ReportFactoryError(fe)
			ferr = fe
		}()
		if n.def.kind == kindNotifier {
			value = n.def.buildFn(n.notifier, ref)
		} else {
			value = n.def.factory(ref)
		}
	}()
	rt.commitEdges(n, ref.deps)
	if ferr != nil {
		return &snapshot{err: ferr}
	}
	return &snapshot{value: value}
}

// launchAsync starts a new generation for an asynchronous node: the previous
// task's context is cancelled, the node publishes a loading state carrying
// the last settled data, and the factory runs on its own goroutine.
func (rt *runtime) launchAsync(n *node, old *snapshot) {
	n.generation++
	gen := n.generation
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	if n.def.immediate != nil {
		next := &snapshot{value: *n.def.immediate}
		n.value.Store(next)
		if !equalSnapshots(n.def, old, next) {
			rt.noteChanged(n, old)
		}
		return
	}
	ctx, cancel := context.WithCancel(n.home.ctx)
	n.cancel = cancel
	// watches recorded by the superseded generation no longer apply
	rt.commitEdges(n, map[*node]struct{}{})
	loading := asyncState{tag: AsyncLoading}
	if old != nil {
		if st, ok := old.value.(asyncState); ok && st.hasData {
			loading.value = st.value
			loading.hasData = true
		}
	}
	next := &snapshot{value: loading}
	n.value.Store(next)
	if !equalSnapshots(n.def, old, next) {
		rt.noteChanged(n, old)
	}
	ref := &Ref{
		rt:    rt,
		scope: n.origin,
		n:     n,
		gen:   gen,
		ctx:   ctx,
		live:  true,
		deps:  map[*node]struct{}{},
	}
	rt.inflight.Add(1)
	go rt.runAsyncTask(n, gen, ctx, ref)
}

func (rt *runtime) runAsyncTask(n *node, gen uint64, ctx context.Context, ref *Ref) {
	defer rt.inflight.Add(-1)
	var value any
	var err error
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if pe, ok := r.(propagated); ok {
				err = pe.err
				return
			}
			fe := &currenterrors.FactoryError{
				Provider:   n.name(),
				Generation: gen,
				Recovered:  r,
				StackTrace: currenterrors.CaptureStack(),
			}
			if e, ok := r.(error); ok {
				fe.Err = e
			}
			currenterrors.ReportFactoryError(fe)
			err = fe
		}()
		value, err = n.def.asyncFn(ctx, ref)
	}()
	rt.applyAsyncResult(n, gen, value, err)
}

// applyAsyncResult publishes a completed task's result unless the node moved
// on to a newer generation or was disposed, in which case the result is
// discarded and surfaced only as an observer event.
func (rt *runtime) applyAsyncResult(n *node, gen uint64, value any, err error) {
	rt.withGate("provider.async", func() error {
		if n.disposed || gen != n.generation {
			rt.emitDiscarded(n, gen, value, err)
			return nil
		}
		old := n.snap()
		var st asyncState
		if err != nil {
			st = asyncState{tag: AsyncError, err: err}
		} else {
			st = asyncState{tag: AsyncData, value: value, hasData: true}
		}
		next := &snapshot{value: st}
		n.value.Store(next)
		if !equalSnapshots(n.def, old, next) {
			rt.noteChanged(n, old)
		}
		return nil
	})
}

func (rt *runtime) setValueLocked(n *node, v any) {
	old := n.snap()
	if old != nil && old.err == nil && n.def.equal(old.value, v) {
		return
	}
	n.value.Store(&snapshot{value: v})
	rt.noteChanged(n, old)
}

// setValue is the gate-acquiring form used by notifier handles, which are
// called from arbitrary goroutines.
func (rt *runtime) setValue(op string, n *node, v any) {
	rt.withGate(op, func() error {
		if n.disposed {
			err := &currenterrors.StateError{
				Op:       op,
				Kind:     currenterrors.KindLifecycle,
				Provider: n.name(),
				Err:      errors.New("instance is disposed"),
			}
			currenterrors.Report(err)
			return err
		}
		rt.setValueLocked(n, v)
		return nil
	})
}

func (rt *runtime) markPending(n *node) {
	if n.disposed {
		return
	}
	rt.pending[n] = struct{}{}
	rt.active = true
}

func (rt *runtime) noteChanged(n *node, old *snapshot) {
	rt.active = true
	if _, ok := rt.changed[n]; !ok {
		rt.changed[n] = old
	}
}

// candidateLocked queues n for the end-of-batch auto-dispose check. The
// decision is deferred so that releasing and re-acquiring a node within a
// batch never tears it down.
func (rt *runtime) candidateLocked(n *node) {
	if n.disposed || !n.def.autoDispose {
		return
	}
	rt.checkDispose = append(rt.checkDispose, n)
	rt.active = true
}

// commitEdges replaces n's producer set with newDeps, keeping dependents as
// the exact inverse. Producers that lost their last consumer become
// auto-dispose candidates. A changed producer set voids cached scope
// resolutions of n and everything downstream, since those were validated
// against the old set.
func (rt *runtime) commitEdges(n *node, newDeps map[*node]struct{}) {
	rewired := false
	for p := range n.deps {
		if _, keep := newDeps[p]; !keep {
			delete(p.dependents, n)
			rt.candidateLocked(p)
			rewired = true
		}
	}
	for p := range newDeps {
		if _, had := n.deps[p]; !had {
			p.dependents[n] = struct{}{}
			rewired = true
		}
	}
	n.deps = newDeps
	if rewired {
		rt.evictResolutionsLocked(n)
	}
}

// linkLate adds a single edge discovered by an asynchronous factory after
// its node was already published.
func (rt *runtime) linkLate(n, p *node) {
	if n.disposed || p.disposed {
		return
	}
	if _, had := n.deps[p]; had {
		return
	}
	n.deps[p] = struct{}{}
	p.dependents[n] = struct{}{}
	rt.evictResolutionsLocked(n)
}

// evictResolutionsLocked drops cached scope resolutions for n and every node
// downstream of it. A cached resolution certifies that the instance's whole
// producer cone resolves identically from the caching scope; rewiring an edge
// voids that certificate for the node and all of its consumers.
func (rt *runtime) evictResolutionsLocked(n *node) {
	seen := map[*node]struct{}{}
	var walk func(x *node)
	walk = func(x *node) {
		if _, ok := seen[x]; ok {
			return
		}
		seen[x] = struct{}{}
		for _, sc := range x.cachedIn {
			if sc.resolution[x.def.id] == x {
				delete(sc.resolution, x.def.id)
			}
		}
		x.cachedIn = nil
		for d := range x.dependents {
			walk(d)
		}
	}
	walk(n)
}

func (rt *runtime) queueNotificationsLocked() {
	if len(rt.changed) == 0 {
		return
	}
	nodes := make([]*node, 0, len(rt.changed))
	for n := range rt.changed {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
	for _, n := range nodes {
		old := rt.changed[n]
		cur := n.snap()
		if equalSnapshots(n.def, old, cur) {
			continue // returned to its original value within the batch
		}
		rt.changedCount++
		rt.emitNodeChange(n, old, cur)
		if len(n.observers) == 0 {
			continue
		}
		ids := make([]uint64, 0, len(n.observers))
		for id := range n.observers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			rt.notifyQ = append(rt.notifyQ, queuedNotify{sub: n.observers[id], snap: cur})
		}
	}
}

func (rt *runtime) processDisposalsLocked() {
	for len(rt.checkDispose) > 0 {
		n := rt.checkDispose[len(rt.checkDispose)-1]
		rt.checkDispose = rt.checkDispose[:len(rt.checkDispose)-1]
		if n.disposed || !n.def.autoDispose || n.pinned {
			continue
		}
		if n.observerCount() > 0 || len(n.dependents) > 0 {
			continue
		}
		rt.disposeNodeLocked(n)
	}
}

// disposeNodeLocked tears a node down unconditionally: edges are severed,
// subscriptions closed, caches evicted, and the node's dispose callbacks are
// queued to run in reverse registration order after the gate is released.
func (rt *runtime) disposeNodeLocked(n *node) {
	if n.disposed {
		return
	}
	n.disposed = true
	rt.disposedCount++
	rt.active = true
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	for p := range n.deps {
		delete(p.dependents, n)
		rt.candidateLocked(p)
	}
	n.deps = map[*node]struct{}{}
	for d := range n.dependents {
		delete(d.deps, n)
	}
	n.dependents = map[*node]struct{}{}
	for _, sub := range n.observers {
		sub.markClosed()
	}
	n.observers = map[uint64]*subscription{}
	if n.home != nil && n.home.instances[n.def.id] == n {
		delete(n.home.instances, n.def.id)
	}
	for _, s := range n.cachedIn {
		if s.resolution[n.def.id] == n {
			delete(s.resolution, n.def.id)
		}
	}
	n.cachedIn = nil
	callbacks := n.takeDisposers()
	if len(callbacks) > 0 {
		rt.postCallbacks = append(rt.postCallbacks, func() {
			for _, fn := range callbacks {
				runDisposer(fn)
			}
		})
	}
	rt.emitNodeDisposed(n)
}

func runDisposer(fn func()) {
	defer currenterrors.Recover("provider.dispose")
	fn()
}

// disposeScopeLocked tears down s and everything under it: child scopes in
// reverse creation order first, then the scope's own instances in reverse
// creation order. In-flight asynchronous work is cancelled via the scope
// context.
func (rt *runtime) disposeScopeLocked(s *Scope) {
	if s.disposed {
		return
	}
	s.disposed = true
	rt.active = true
	for i := len(s.children) - 1; i >= 0; i-- {
		rt.disposeScopeLocked(s.children[i])
	}
	s.children = nil
	for i := len(s.created) - 1; i >= 0; i-- {
		rt.disposeNodeLocked(s.created[i])
	}
	s.created = nil
	s.instances = map[Identity]*node{}
	s.resolution = map[Identity]*node{}
	if s.cancel != nil {
		s.cancel()
	}
	if cbs := s.onDispose; len(cbs) > 0 {
		s.onDispose = nil
		rt.postCallbacks = append(rt.postCallbacks, func() {
			for i := len(cbs) - 1; i >= 0; i-- {
				runDisposer(cbs[i])
			}
		})
	}
	if s.parent != nil && !s.parent.disposed {
		for i, c := range s.parent.children {
			if c == s {
				s.parent.children = append(s.parent.children[:i], s.parent.children[i+1:]...)
				break
			}
		}
	}
	rt.emitScopeLocked(func(o Observer, e ScopeEvent) { o.ScopeDisposed(e) }, s)
}

// cycleError builds and reports the configuration error for a dependency
// cycle ending at the named provider. The path starts at the first
// occurrence of the provider in the factory chain currently executing.
func (rt *runtime) cycleError(op string, id Identity, name string) error {
	start := 0
	for i, m := range rt.computeStack {
		if m.def.id == id {
			start = i
			break
		}
	}
	path := make([]string, 0, len(rt.computeStack)-start+1)
	for _, m := range rt.computeStack[start:] {
		path = append(path, m.name())
	}
	path = append(path, name)
	err := &currenterrors.StateError{
		Op:       op,
		Kind:     currenterrors.KindConfig,
		Provider: name,
		Err:      &currenterrors.CycleError{Path: path},
	}
	currenterrors.Report(err)
	return err
}

// awaitNode blocks until the node for def, resolved from s, settles. For
// synchronous kinds it returns immediately after instantiation. The wait
// holds an observer registration so the node cannot be auto-disposed while
// awaited.
func (rt *runtime) awaitNode(ctx context.Context, s *Scope, def *definition) (*snapshot, error) {
	for {
		var settled *snapshot
		var ch chan struct{}
		var cleanup func()
		err := rt.withGate("provider.await", func() error {
			n, err := rt.resolve(s, def, true)
			if err != nil {
				return err
			}
			snap := n.snap()
			if def.kind != kindAsync {
				settled = snap
				return nil
			}
			if st, ok := snap.value.(asyncState); ok && st.tag != AsyncLoading {
				settled = snap
				return nil
			}
			ch = make(chan struct{}, 1)
			id := n.nextObserver
			n.nextObserver++
			core := &subscription{
				rt: rt,
				n:  n,
				id: id,
				fn: func(any) {
					select {
					case ch <- struct{}{}:
					default:
					}
				},
			}
			n.observers[id] = core
			cleanup = core.close
			return nil
		})
		if err != nil {
			return nil, err
		}
		if settled != nil {
			return settled, nil
		}
		select {
		case <-ctx.Done():
			cleanup()
			return nil, ctx.Err()
		case <-ch:
			cleanup()
		}
	}
}
