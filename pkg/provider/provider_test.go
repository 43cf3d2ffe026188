package provider

import (
	"errors"
	"sync"
	"testing"
	"time"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// quietHandler swallows reported errors so expected failures do not spam
// test output.
type quietHandler struct{}

func (quietHandler) HandleError(*currenterrors.StateError)          {}
func (quietHandler) HandlePanic(*currenterrors.PanicError)          {}
func (quietHandler) HandleFactoryError(*currenterrors.FactoryError) {}

func silenceErrors(t *testing.T) {
	t.Helper()
	currenterrors.SetHandler(quietHandler{})
	t.Cleanup(func() { currenterrors.SetHandler(nil) })
}

// captureHandler records reported errors for assertions.
type captureHandler struct {
	mu        sync.Mutex
	errs      []*currenterrors.StateError
	factories []*currenterrors.FactoryError
}

func (h *captureHandler) HandleError(err *currenterrors.StateError) {
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *captureHandler) HandlePanic(*currenterrors.PanicError) {}

func (h *captureHandler) HandleFactoryError(err *currenterrors.FactoryError) {
	h.mu.Lock()
	h.factories = append(h.factories, err)
	h.mu.Unlock()
}

func (h *captureHandler) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

func captureErrors(t *testing.T) *captureHandler {
	t.Helper()
	h := &captureHandler{}
	currenterrors.SetHandler(h)
	t.Cleanup(func() { currenterrors.SetHandler(nil) })
	return h
}

// recorder collects observer events for assertions. Its methods run under
// the runtime gate, so it only touches its own mutex.
type recorder struct {
	BaseObserver
	mu        sync.Mutex
	created   []string
	updated   []Event
	errored   []Event
	disposed  []string
	discarded []Event
	batches   []BatchEvent
}

func (r *recorder) NodeCreated(e Event) {
	r.mu.Lock()
	r.created = append(r.created, e.Provider)
	r.mu.Unlock()
}

func (r *recorder) NodeUpdated(e Event) {
	r.mu.Lock()
	r.updated = append(r.updated, e)
	r.mu.Unlock()
}

func (r *recorder) NodeError(e Event) {
	r.mu.Lock()
	r.errored = append(r.errored, e)
	r.mu.Unlock()
}

func (r *recorder) NodeDisposed(e Event) {
	r.mu.Lock()
	r.disposed = append(r.disposed, e.Provider)
	r.mu.Unlock()
}

func (r *recorder) ResultDiscarded(e Event) {
	r.mu.Lock()
	r.discarded = append(r.discarded, e)
	r.mu.Unlock()
}

func (r *recorder) BatchFinished(e BatchEvent) {
	r.mu.Lock()
	r.batches = append(r.batches, e)
	r.mu.Unlock()
}

func (r *recorder) discardedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discarded)
}

func (r *recorder) disposedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.disposed...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestReadComputesLazilyAndCaches(t *testing.T) {
	calls := 0
	p := New("lazy", func(r *Ref) int {
		calls++
		return 42
	})
	s := NewScope()
	defer s.Dispose()

	if calls != 0 {
		t.Fatalf("factory ran before first read: %d calls", calls)
	}
	if got := Read(s, p); got != 42 {
		t.Errorf("Read = %d, want 42", got)
	}
	if got := Read(s, p); got != 42 {
		t.Errorf("second Read = %d, want 42", got)
	}
	if calls != 1 {
		t.Errorf("factory ran %d times, want 1", calls)
	}
}

func TestWatchRecomputesOnProducerChange(t *testing.T) {
	count := NewState("count", 1)
	calls := 0
	doubled := New("doubled", func(r *Ref) int {
		calls++
		return Watch(r, count) * 2
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, doubled); got != 2 {
		t.Fatalf("doubled = %d, want 2", got)
	}
	Set(s, count, 5)
	if got := Read(s, doubled); got != 10 {
		t.Errorf("doubled after set = %d, want 10", got)
	}
	if calls != 2 {
		t.Errorf("doubled factory ran %d times, want 2", calls)
	}
}

func TestSetEqualValueIsNoOp(t *testing.T) {
	count := NewState("count", 5)
	calls := 0
	doubled := New("doubled", func(r *Ref) int {
		calls++
		return Watch(r, count) * 2
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, doubled); got != 10 {
		t.Fatalf("doubled = %d, want 10", got)
	}
	Set(s, count, 5)
	if calls != 1 {
		t.Errorf("equal set recomputed the dependent: %d calls, want 1", calls)
	}
}

func TestEqualValueHaltsPropagation(t *testing.T) {
	count := NewState("count", 1)
	parityCalls := 0
	parity := New("parity", func(r *Ref) int {
		parityCalls++
		return Watch(r, count) % 2
	})
	labelCalls := 0
	label := New("label", func(r *Ref) string {
		labelCalls++
		if Watch(r, parity) == 0 {
			return "even"
		}
		return "odd"
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, label); got != "odd" {
		t.Fatalf("label = %q, want odd", got)
	}

	// 1 -> 3 keeps parity at 1: parity recomputes, label must not
	Set(s, count, 3)
	if parityCalls != 2 {
		t.Errorf("parity ran %d times, want 2", parityCalls)
	}
	if labelCalls != 1 {
		t.Errorf("label recomputed despite equal parity: %d calls, want 1", labelCalls)
	}

	Set(s, count, 2)
	if got := Read(s, label); got != "even" {
		t.Errorf("label = %q, want even", got)
	}
	if labelCalls != 2 {
		t.Errorf("label ran %d times, want 2", labelCalls)
	}
}

func TestGraphPrecision(t *testing.T) {
	a := NewState("a", 1)
	b := NewState("b", 2)
	unrelated := NewState("unrelated", 0)
	calls := 0
	sum := New("sum", func(r *Ref) int {
		calls++
		return Watch(r, a) + Watch(r, b)
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, sum); got != 3 {
		t.Fatalf("sum = %d, want 3", got)
	}
	Set(s, a, 10)
	if calls != 2 {
		t.Errorf("sum ran %d times after one producer change, want 2", calls)
	}
	if got := Read(s, sum); got != 12 {
		t.Errorf("sum = %d, want 12", got)
	}
	Set(s, unrelated, 99)
	if calls != 2 {
		t.Errorf("sum recomputed on unrelated mutation: %d calls, want 2", calls)
	}
}

func TestBatchCoalescesRecomputationAndNotification(t *testing.T) {
	a := NewState("a", 1)
	b := NewState("b", 1)
	calls := 0
	sum := New("sum", func(r *Ref) int {
		calls++
		return Watch(r, a) + Watch(r, b)
	})
	s := NewScope()
	defer s.Dispose()

	var notified []int
	sub := Observe(s, sum, func(v int) { notified = append(notified, v) })
	defer sub.Close()
	if calls != 1 {
		t.Fatalf("sum ran %d times after observe, want 1", calls)
	}

	s.Batch(func() {
		Set(s, a, 10)
		Set(s, b, 20)
	})

	if calls != 2 {
		t.Errorf("sum ran %d times, want 2 (one recomputation per batch)", calls)
	}
	if len(notified) != 1 || notified[0] != 30 {
		t.Errorf("notifications = %v, want [30]", notified)
	}
	if got := sub.Current(); got != 30 {
		t.Errorf("Current = %d, want 30", got)
	}
}

func TestNestedBatchJoinsOutermost(t *testing.T) {
	a := NewState("a", 1)
	var notified []int
	s := NewScope()
	defer s.Dispose()

	sub := Observe(s, a, func(v int) { notified = append(notified, v) })
	defer sub.Close()

	s.Batch(func() {
		Set(s, a, 2)
		s.Batch(func() {
			Set(s, a, 3)
		})
		Set(s, a, 4)
	})
	if len(notified) != 1 || notified[0] != 4 {
		t.Errorf("notifications = %v, want [4]", notified)
	}
}

func TestSetBackToOriginalWithinBatchNotifiesNothing(t *testing.T) {
	a := NewState("a", 1)
	calls := 0
	dep := New("dep", func(r *Ref) int {
		calls++
		return Watch(r, a)
	})
	s := NewScope()
	defer s.Dispose()

	var notified []int
	sub := Observe(s, dep, func(v int) { notified = append(notified, v) })
	defer sub.Close()

	s.Batch(func() {
		Set(s, a, 2)
		Set(s, a, 1)
	})
	if len(notified) != 0 {
		t.Errorf("net-zero batch notified %v", notified)
	}
	if calls != 1 {
		t.Errorf("dep ran %d times, want 1", calls)
	}
}

func TestDependencySetRebuildsEachComputation(t *testing.T) {
	useFirst := NewState("useFirst", true)
	first := NewState("first", 1)
	second := NewState("second", 100)
	calls := 0
	pick := New("pick", func(r *Ref) int {
		calls++
		if Watch(r, useFirst) {
			return Watch(r, first)
		}
		return Watch(r, second)
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, pick); got != 1 {
		t.Fatalf("pick = %d, want 1", got)
	}
	Set(s, useFirst, false)
	if got := Read(s, pick); got != 100 {
		t.Fatalf("pick = %d, want 100", got)
	}
	calls = 0

	// first is no longer watched; changing it must not recompute pick
	Set(s, first, 7)
	if calls != 0 {
		t.Errorf("pick recomputed on abandoned dependency: %d calls", calls)
	}
	Set(s, second, 200)
	if calls != 1 {
		t.Errorf("pick ran %d times on live dependency change, want 1", calls)
	}
	if got := Read(s, pick); got != 200 {
		t.Errorf("pick = %d, want 200", got)
	}
}

func TestDiamondRecomputesOncePerBatch(t *testing.T) {
	base := NewState("base", 1)
	left := New("left", func(r *Ref) int { return Watch(r, base) + 1 })
	right := New("right", func(r *Ref) int { return Watch(r, base) * 10 })
	calls := 0
	join := New("join", func(r *Ref) int {
		calls++
		return Watch(r, left) + Watch(r, right)
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, join); got != 12 {
		t.Fatalf("join = %d, want 12", got)
	}
	Set(s, base, 2)
	if calls != 2 {
		t.Errorf("join ran %d times, want 2 (once per batch)", calls)
	}
	if got := Read(s, join); got != 23 {
		t.Errorf("join = %d, want 23", got)
	}
}

func TestCycleErrorLeavesNoPartialState(t *testing.T) {
	silenceErrors(t)
	var a, b Provider[int]
	a = New("cyclic-a", func(r *Ref) int { return Watch(r, b) + 1 })
	b = New("cyclic-b", func(r *Ref) int { return Watch(r, a) + 1 })
	s := NewScope()
	defer s.Dispose()

	_, err := TryRead(s, a)
	if err == nil {
		t.Fatal("expected a configuration error for the dependency cycle")
	}
	var se *currenterrors.StateError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *StateError", err)
	}
	if se.Kind != currenterrors.KindConfig {
		t.Errorf("error kind = %v, want %v", se.Kind, currenterrors.KindConfig)
	}
	var ce *currenterrors.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("error chain missing *CycleError: %v", err)
	}
	if len(ce.Path) < 3 {
		t.Errorf("cycle path = %v, want at least a -> b -> a", ce.Path)
	}

	if s.Contains(a) {
		t.Error("cycle left a partial instance of a registered")
	}
	if s.Contains(b) {
		t.Error("cycle left a partial instance of b registered")
	}
}

func TestSelfWatchIsCycle(t *testing.T) {
	silenceErrors(t)
	var p Provider[int]
	p = New("narcissist", func(r *Ref) int { return Watch(r, p) })
	s := NewScope()
	defer s.Dispose()

	_, err := TryRead(s, p)
	var ce *currenterrors.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("self-watch did not produce a cycle error: %v", err)
	}
}

func TestFactoryPanicBecomesErrorState(t *testing.T) {
	silenceErrors(t)
	boom := errors.New("boom")
	bad := New("bad", func(r *Ref) int { panic(boom) })
	dep := New("dep-on-bad", func(r *Ref) int { return Watch(r, bad) + 1 })
	s := NewScope()
	defer s.Dispose()

	_, err := TryRead(s, bad)
	if !errors.Is(err, boom) {
		t.Fatalf("TryRead error = %v, want chain containing boom", err)
	}
	var fe *currenterrors.FactoryError
	if !errors.As(err, &fe) {
		t.Fatalf("error chain missing *FactoryError: %v", err)
	}

	// the producer's error propagates to consumers that read it
	_, err = TryRead(s, dep)
	if !errors.Is(err, boom) {
		t.Errorf("dependent error = %v, want chain containing boom", err)
	}
	if got := Read(s, dep); got != 0 {
		t.Errorf("Read of errored node = %d, want zero value", got)
	}
}

func TestTryWatchReturnsProducerError(t *testing.T) {
	silenceErrors(t)
	boom := errors.New("boom")
	bad := New("bad-producer", func(r *Ref) int { panic(boom) })
	calls := 0
	fallback := New("fallback", func(r *Ref) int {
		calls++
		v, err := TryWatch(r, bad)
		if err != nil {
			return -1
		}
		return v
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, fallback); got != -1 {
		t.Errorf("fallback = %d, want -1", got)
	}
	if calls != 1 {
		t.Errorf("fallback ran %d times, want 1", calls)
	}
}

func TestInvalidateRecomputes(t *testing.T) {
	calls := 0
	p := New("ticker", func(r *Ref) int {
		calls++
		return calls
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, p); got != 1 {
		t.Fatalf("first read = %d, want 1", got)
	}
	s.Invalidate(p)
	if got := Read(s, p); got != 2 {
		t.Errorf("read after invalidate = %d, want 2", got)
	}
}

func TestInvalidateWithoutInstanceIsNoOp(t *testing.T) {
	calls := 0
	p := New("untouched", func(r *Ref) int {
		calls++
		return 0
	})
	s := NewScope()
	defer s.Dispose()

	s.Invalidate(p)
	if calls != 0 {
		t.Errorf("invalidate instantiated the provider: %d calls", calls)
	}
}

func TestInvalidateResetsStateToSeed(t *testing.T) {
	count := NewState("resettable", 3)
	s := NewScope()
	defer s.Dispose()

	Set(s, count, 42)
	if got := Read(s, count); got != 42 {
		t.Fatalf("count = %d, want 42", got)
	}
	s.Invalidate(count)
	if got := Read(s, count); got != 3 {
		t.Errorf("count after invalidate = %d, want seed 3", got)
	}
}

func TestRefreshReturnsFreshValue(t *testing.T) {
	calls := 0
	p := New("refresh-me", func(r *Ref) int {
		calls++
		return calls * 10
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, p); got != 10 {
		t.Fatalf("read = %d, want 10", got)
	}
	if got := Refresh(s, p); got != 20 {
		t.Errorf("Refresh = %d, want 20", got)
	}
}

func TestInvalidateSelfSchedulesFollowUp(t *testing.T) {
	calls := 0
	p := New("restless", func(r *Ref) int {
		calls++
		if calls == 1 {
			r.InvalidateSelf()
		}
		return calls
	})
	s := NewScope()
	defer s.Dispose()

	Read(s, p)
	if got := Read(s, p); got != 2 {
		t.Errorf("read after self-invalidation = %d, want 2", got)
	}
	if calls != 2 {
		t.Errorf("factory ran %d times, want 2", calls)
	}
}

func TestUpdateAppliesFunction(t *testing.T) {
	count := NewState("updatable", 10)
	s := NewScope()
	defer s.Dispose()

	Update(s, count, func(v int) int { return v + 5 })
	if got := Read(s, count); got != 15 {
		t.Errorf("count = %d, want 15", got)
	}
}

func TestWithEquality(t *testing.T) {
	type user struct {
		id   int
		name string
	}
	src := NewState("rawuser", user{id: 1, name: "ada"})
	calls := 0
	// current treats users with the same id as unchanged
	current := New("currentuser", func(r *Ref) user {
		calls++
		return Watch(r, src)
	}, WithEquality(func(a, b user) bool { return a.id == b.id }))
	greetCalls := 0
	greeting := New("greeting", func(r *Ref) string {
		greetCalls++
		return "hello " + Watch(r, current).name
	})
	s := NewScope()
	defer s.Dispose()

	if got := Read(s, greeting); got != "hello ada" {
		t.Fatalf("greeting = %q, want hello ada", got)
	}
	Set(s, src, user{id: 1, name: "renamed"})
	if calls != 2 {
		t.Fatalf("current ran %d times, want 2", calls)
	}
	if greetCalls != 1 {
		t.Errorf("greeting recomputed despite same user id: %d calls", greetCalls)
	}
	Set(s, src, user{id: 2, name: "bob"})
	if got := Read(s, greeting); got != "hello bob" {
		t.Errorf("greeting = %q, want hello bob", got)
	}
}

func TestDefaultEqualityOnNonComparable(t *testing.T) {
	src := NewState("slice", []int{1})
	calls := 0
	dep := New("slicelen", func(r *Ref) int {
		calls++
		return len(Watch(r, src))
	})
	s := NewScope()
	defer s.Dispose()

	Read(s, dep)
	Set(s, src, []int{1}) // distinct slice, never equal
	if calls != 2 {
		t.Errorf("dep ran %d times, want 2 (slices are never equal)", calls)
	}
}

func TestReadInsideFactoryIsConfigError(t *testing.T) {
	h := captureErrors(t)
	s := NewScope()
	defer s.Dispose()

	other := New("other", func(r *Ref) int { return 5 })
	selfish := New("selfish", func(r *Ref) int {
		return Read(s, other) // must use Watch; reported, returns zero
	})

	if got := Read(s, selfish); got != 0 {
		t.Errorf("read = %d, want 0", got)
	}
	if h.errorCount() == 0 {
		t.Error("re-entrant scope read inside a factory was not reported")
	}
}

func TestObserveNotifiesOncePerChangedBatch(t *testing.T) {
	count := NewState("observed", 0)
	s := NewScope()
	defer s.Dispose()

	var got []int
	sub := Observe(s, count, func(v int) { got = append(got, v) })
	defer sub.Close()

	Set(s, count, 1)
	Set(s, count, 2)
	Set(s, count, 2) // equal, no notification
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("notifications = %v, want [1 2]", got)
	}
}

func TestSubscriptionCloseStopsNotifications(t *testing.T) {
	count := NewState("muted", 0)
	s := NewScope()
	defer s.Dispose()

	var got []int
	sub := Observe(s, count, func(v int) { got = append(got, v) })
	Set(s, count, 1)
	sub.Close()
	Set(s, count, 2)
	if len(got) != 1 {
		t.Errorf("notifications after close = %v, want [1]", got)
	}
	if !sub.Closed() {
		t.Error("subscription did not report closed")
	}
}

func TestFamilyMemoizesPerParameter(t *testing.T) {
	calls := map[int]int{}
	squares := NewFamily("square", func(r *Ref, n int) int {
		calls[n]++
		return n * n
	})
	s := NewScope()
	defer s.Dispose()

	if squares.For(3).Identity() != squares.For(3).Identity() {
		t.Error("same parameter produced different identities")
	}
	if got := Read(s, squares.For(3)); got != 9 {
		t.Errorf("square(3) = %d, want 9", got)
	}
	if got := Read(s, squares.For(4)); got != 16 {
		t.Errorf("square(4) = %d, want 16", got)
	}
	Read(s, squares.For(3))
	if calls[3] != 1 {
		t.Errorf("square(3) factory ran %d times, want 1", calls[3])
	}
	if squares.Len() != 2 {
		t.Errorf("family size = %d, want 2", squares.Len())
	}
}

func TestReadAnyResolvesByIdentity(t *testing.T) {
	p := New("by-identity", func(r *Ref) string { return "here" })
	s := NewScope()
	defer s.Dispose()

	v, err := s.ReadAny(p.Identity())
	if err != nil {
		t.Fatalf("ReadAny: %v", err)
	}
	if v != "here" {
		t.Errorf("ReadAny = %v, want here", v)
	}

	if _, err := s.ReadAny(Identity{}); err == nil {
		t.Error("ReadAny of unknown identity did not fail")
	}
}
