package provider

import (
	"errors"
	"fmt"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// resolveDefinition walks from s to the root looking for an override of id.
// It returns the definition to use and the scope the instance is anchored
// to: the innermost overriding scope, or the root when no override applies.
func (s *Scope) resolveDefinition(id Identity, base *definition) (*definition, *Scope) {
	for x := s; x != nil; x = x.parent {
		if d, ok := x.overrides[id]; ok {
			return d, x
		}
	}
	return base, s.rt.root
}

// peek returns the instance that resolving id from s would reuse, without
// creating anything. It returns nil when resolution would have to create a
// new instance.
func (s *Scope) peek(id Identity) *node {
	if n, ok := s.resolution[id]; ok && !n.disposed {
		return n
	}
	base, ok := lookupDefinition(id)
	if !ok {
		return nil
	}
	def, _ := s.resolveDefinition(id, base)
	return s.findInstance(id, def)
}

// findInstance searches s and its ancestors for a live instance of id built
// from def whose entire producer set still matches what a fresh resolution
// from s would select. Reusing an instance with diverging producers would
// leak overridden values across scope boundaries.
func (s *Scope) findInstance(id Identity, def *definition) *node {
	for x := s; x != nil; x = x.parent {
		n, ok := x.instances[id]
		if !ok || n.disposed || n.def != def {
			continue
		}
		if s.validInstance(n) {
			return n
		}
	}
	return nil
}

func (s *Scope) validInstance(n *node) bool {
	for p := range n.deps {
		if s.peek(p.def.id) != p {
			return false
		}
	}
	return true
}

func (s *Scope) cacheResolution(n *node) {
	s.resolution[n.def.id] = n
	n.cachedIn = append(n.cachedIn, s)
}

// resolve returns the instance for base's identity as seen from s, creating
// it if create is set and no valid instance exists. Callers must hold the
// runtime gate.
func (rt *runtime) resolve(s *Scope, base *definition, create bool) (*node, error) {
	if s == nil {
		return nil, &currenterrors.StateError{
			Op:   "provider.resolve",
			Kind: currenterrors.KindConfig,
			Err:  errors.New("nil scope"),
		}
	}
	if s.disposed {
		err := &currenterrors.StateError{
			Op:       "provider.resolve",
			Kind:     currenterrors.KindLifecycle,
			Provider: base.id.name,
			Err:      fmt.Errorf("scope %s is disposed", s.id),
		}
		currenterrors.Report(err)
		return nil, err
	}
	s.used = true
	id := base.id
	if n, ok := s.resolution[id]; ok && !n.disposed {
		return n, nil
	}
	def, site := s.resolveDefinition(id, base)
	if n := s.findInstance(id, def); n != nil {
		s.cacheResolution(n)
		return n, nil
	}
	if !create {
		return nil, nil
	}
	n, err := rt.createNode(s, def, site)
	if err != nil {
		return nil, err
	}
	s.cacheResolution(n)
	return n, nil
}

// createNode builds a fresh instance of def. The requesting scope s is the
// resolution base for everything the factory watches; the finished instance
// is homed at the deepest scope among the definition's anchor and the homes
// of the producers it actually read, so unrelated scopes can still share it
// while overridden ones cannot.
//
// If the factory fails with a cycle, nothing is registered and dispose
// callbacks it managed to add are unwound.
func (rt *runtime) createNode(s *Scope, def *definition, site *Scope) (*node, error) {
	for _, m := range rt.computeStack {
		if m.def.id == def.id {
			panic(errSignal{rt.cycleError("provider.create", def.id, def.id.name)})
		}
	}
	rt.nodeSeq++
	n := &node{
		def:        def,
		home:       site,
		origin:     s,
		seq:        rt.nodeSeq,
		deps:       map[*node]struct{}{},
		dependents: map[*node]struct{}{},
		observers:  map[uint64]*subscription{},
		pinned:     def.keepAlive,
	}
	switch def.kind {
	case kindState:
		n.generation++
		n.value.Store(&snapshot{value: def.seed()})
	case kindNotifier:
		n.notifier = def.newNtf()
		binder, ok := n.notifier.(notifierBinder)
		if !ok {
			err := &currenterrors.StateError{
				Op:       "provider.create",
				Kind:     currenterrors.KindConfig,
				Provider: def.id.name,
				Err:      errors.New("notifier does not embed provider.NotifierBase"),
			}
			currenterrors.Report(err)
			return nil, err
		}
		binder.bindNotifier(&notifierHandle{rt: rt, n: n})
		rt.runCreateFactory(n)
	case kindAsync:
		if def.immediate != nil {
			n.generation++
			n.value.Store(&snapshot{value: *def.immediate})
		} else {
			rt.launchAsync(n, nil)
		}
	default:
		rt.runCreateFactory(n)
	}
	// Home lifting: an instance lives as deep as the deepest producer it
	// read during its first computation. Producers always sit on the path
	// between the root and the requesting scope.
	home := site
	for p := range n.deps {
		if p.home.depth > home.depth {
			home = p.home
		}
	}
	n.home = home
	home.instances[def.id] = n
	home.created = append(home.created, n)
	rt.emitNodeCreated(n)
	rt.candidateLocked(n)
	return n, nil
}

// runCreateFactory runs the first synchronous computation for n, unwinding
// any dispose callbacks the factory registered if creation aborts on a
// cycle.
func (rt *runtime) runCreateFactory(n *node) {
	defer func() {
		if r := recover(); r != nil {
			for _, fn := range n.takeDisposers() {
				runDisposer(fn)
			}
			panic(r)
		}
	}()
	n.value.Store(rt.runFactory(n))
}
