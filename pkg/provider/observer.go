package provider

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// ScopeRef identifies a scope in observer events and exports.
type ScopeRef struct {
	ID    uuid.UUID
	Label string
}

// Event describes a change to a single node. Old and New carry the public
// view values (T, or AsyncValue for asynchronous providers) and may be nil.
type Event struct {
	Provider   string
	Identity   Identity
	Kind       string
	Scope      ScopeRef
	Batch      uuid.UUID
	Generation uint64
	Old        any
	New        any
	Err        error
	Time       time.Time
}

// ScopeEvent describes scope creation or disposal.
type ScopeEvent struct {
	Scope  ScopeRef
	Parent ScopeRef
	Time   time.Time
}

// BatchEvent summarizes one completed invalidation batch.
type BatchEvent struct {
	Batch      uuid.UUID
	Recomputed int
	Changed    int
	Disposed   int
	Duration   time.Duration
	Time       time.Time
}

// Observer receives runtime diagnostics for a scope tree. Implementations
// are called synchronously while the runtime gate is held and must not call
// back into scope or provider operations; hand work off to another goroutine
// if needed.
type Observer interface {
	ScopeCreated(e ScopeEvent)
	ScopeDisposed(e ScopeEvent)
	NodeCreated(e Event)
	NodeUpdated(e Event)
	NodeError(e Event)
	NodeDisposed(e Event)
	// ResultDiscarded fires when an asynchronous completion arrived for a
	// superseded generation or a disposed instance and was dropped.
	ResultDiscarded(e Event)
	BatchFinished(e BatchEvent)
}

// BaseObserver is a no-op Observer. Embed it to implement only the methods
// of interest.
type BaseObserver struct{}

func (BaseObserver) ScopeCreated(ScopeEvent)  {}
func (BaseObserver) ScopeDisposed(ScopeEvent) {}
func (BaseObserver) NodeCreated(Event)        {}
func (BaseObserver) NodeUpdated(Event)        {}
func (BaseObserver) NodeError(Event)          {}
func (BaseObserver) NodeDisposed(Event)       {}
func (BaseObserver) ResultDiscarded(Event)    {}
func (BaseObserver) BatchFinished(BatchEvent) {}

// LogObserver writes runtime events to a structured logger. Node and scope
// lifecycle is logged at debug level, errors at error level.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns a LogObserver writing to logger, or slog.Default()
// when logger is nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) nodeAttrs(e Event) []any {
	return []any{
		slog.String("provider", e.Provider),
		slog.String("kind", e.Kind),
		slog.String("scope", e.Scope.Label),
		slog.String("batch", e.Batch.String()),
		slog.Uint64("generation", e.Generation),
	}
}

func (l *LogObserver) ScopeCreated(e ScopeEvent) {
	l.logger.Debug("scope created", slog.String("scope", e.Scope.ID.String()), slog.String("label", e.Scope.Label))
}

func (l *LogObserver) ScopeDisposed(e ScopeEvent) {
	l.logger.Debug("scope disposed", slog.String("scope", e.Scope.ID.String()), slog.String("label", e.Scope.Label))
}

func (l *LogObserver) NodeCreated(e Event) {
	l.logger.Debug("node created", l.nodeAttrs(e)...)
}

func (l *LogObserver) NodeUpdated(e Event) {
	attrs := append(l.nodeAttrs(e), slog.Any("value", e.New))
	l.logger.Debug("node updated", attrs...)
}

func (l *LogObserver) NodeError(e Event) {
	attrs := append(l.nodeAttrs(e), slog.Any("error", e.Err))
	l.logger.Error("node error", attrs...)
}

func (l *LogObserver) NodeDisposed(e Event) {
	l.logger.Debug("node disposed", l.nodeAttrs(e)...)
}

func (l *LogObserver) ResultDiscarded(e Event) {
	l.logger.Debug("stale result discarded", l.nodeAttrs(e)...)
}

func (l *LogObserver) BatchFinished(e BatchEvent) {
	l.logger.Debug("batch finished",
		slog.String("batch", e.Batch.String()),
		slog.Int("recomputed", e.Recomputed),
		slog.Int("changed", e.Changed),
		slog.Int("disposed", e.Disposed),
		slog.Duration("duration", e.Duration),
	)
}

// addObserver registers o runtime-wide and returns its removal function.
func (rt *runtime) addObserver(o Observer) func() {
	if o == nil {
		return func() {}
	}
	var id uint64
	rt.withGate("scope.observer", func() error {
		id = rt.obsNext
		rt.obsNext++
		rt.observers[id] = o
		return nil
	})
	return func() {
		rt.withGate("scope.observer", func() error {
			delete(rt.observers, id)
			return nil
		})
	}
}

// emit delivers an event to every observer, isolating the runtime from
// observer panics.
func (rt *runtime) emit(send func(Observer)) {
	if len(rt.observers) == 0 {
		return
	}
	for _, o := range rt.observers {
		func() {
			defer currenterrors.Recover("provider.observer")
			send(o)
		}()
	}
}

func (rt *runtime) nodeEvent(n *node, old, cur *snapshot) Event {
	e := Event{
		Provider:   n.name(),
		Identity:   n.def.id,
		Kind:       n.def.kind.String(),
		Batch:      rt.batchID,
		Generation: n.generation,
		Time:       time.Now(),
	}
	if n.home != nil {
		e.Scope = n.home.refInfo()
	}
	if old != nil && old.err == nil {
		e.Old = n.def.view(old)
	}
	if cur != nil {
		if cur.err != nil {
			e.Err = cur.err
		} else {
			e.New = n.def.view(cur)
			if st, ok := cur.value.(asyncState); ok && st.tag == AsyncError {
				e.Err = st.err
			}
		}
	}
	return e
}

func (rt *runtime) emitNodeCreated(n *node) {
	if len(rt.observers) == 0 {
		return
	}
	e := rt.nodeEvent(n, nil, n.snap())
	rt.emit(func(o Observer) { o.NodeCreated(e) })
}

func (rt *runtime) emitNodeChange(n *node, old, cur *snapshot) {
	if len(rt.observers) == 0 {
		return
	}
	e := rt.nodeEvent(n, old, cur)
	if e.Err != nil {
		rt.emit(func(o Observer) { o.NodeError(e) })
		return
	}
	rt.emit(func(o Observer) { o.NodeUpdated(e) })
}

func (rt *runtime) emitNodeDisposed(n *node) {
	if len(rt.observers) == 0 {
		return
	}
	e := rt.nodeEvent(n, nil, nil)
	rt.emit(func(o Observer) { o.NodeDisposed(e) })
}

func (rt *runtime) emitDiscarded(n *node, gen uint64, value any, err error) {
	if len(rt.observers) == 0 {
		return
	}
	e := Event{
		Provider:   n.name(),
		Identity:   n.def.id,
		Kind:       n.def.kind.String(),
		Batch:      rt.batchID,
		Generation: gen,
		New:        value,
		Err:        err,
		Time:       time.Now(),
	}
	if n.home != nil {
		e.Scope = n.home.refInfo()
	}
	rt.emit(func(o Observer) { o.ResultDiscarded(e) })
}

func (rt *runtime) emitBatch() {
	if len(rt.observers) == 0 {
		return
	}
	e := BatchEvent{
		Batch:      rt.batchID,
		Recomputed: len(rt.recomputed),
		Changed:    rt.changedCount,
		Disposed:   rt.disposedCount,
		Duration:   time.Since(rt.batchStart),
		Time:       time.Now(),
	}
	rt.emit(func(o Observer) { o.BatchFinished(e) })
}

// emitScopeLocked delivers a scope lifecycle event; the gate must be held.
func (rt *runtime) emitScopeLocked(send func(Observer, ScopeEvent), s *Scope) {
	if len(rt.observers) == 0 {
		return
	}
	e := ScopeEvent{Scope: s.refInfo(), Time: time.Now()}
	if s.parent != nil {
		e.Parent = s.parent.refInfo()
	}
	rt.emit(func(o Observer) { send(o, e) })
}

// emitScope is the gate-acquiring form for call sites outside the runtime.
func (rt *runtime) emitScope(send func(Observer, ScopeEvent), s *Scope) {
	rt.withGate("scope.observer", func() error {
		rt.emitScopeLocked(send, s)
		return nil
	})
}
