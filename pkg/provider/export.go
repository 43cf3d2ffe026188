package provider

import (
	"fmt"
	"sort"
	"time"
)

// GraphExport is a point-in-time copy of a scope tree's structure: every
// scope, every live node, and the dependency edges between them. It is
// produced under the runtime gate, so it is internally consistent.
type GraphExport struct {
	CapturedAt time.Time
	Root       ScopeExport
}

// ScopeExport describes one scope and its children.
type ScopeExport struct {
	ID       string
	Label    string
	Depth    int
	Nodes    []NodeExport
	Children []ScopeExport
}

// NodeExport describes one live node instance.
type NodeExport struct {
	Identity    string
	Name        string
	Kind        string
	Generation  uint64
	Observers   int
	Pinned      bool
	AutoDispose bool
	HasValue    bool
	Value       string
	Error       string
	AsyncTag    string
	DependsOn   []string
	Dependents  []string
}

// Export captures the structure of the scope tree rooted at s. Disposed
// scopes export empty.
func (s *Scope) Export() GraphExport {
	var out GraphExport
	s.rt.withGate("provider.export", func() error {
		out = GraphExport{
			CapturedAt: time.Now(),
			Root:       exportScope(s),
		}
		return nil
	})
	return out
}

func exportScope(s *Scope) ScopeExport {
	se := ScopeExport{
		ID:    s.id.String(),
		Label: s.label,
		Depth: s.depth,
	}
	if s.disposed {
		return se
	}
	nodes := make([]*node, 0, len(s.created))
	for _, n := range s.created {
		if !n.disposed {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
	for _, n := range nodes {
		se.Nodes = append(se.Nodes, exportNode(n))
	}
	for _, c := range s.children {
		se.Children = append(se.Children, exportScope(c))
	}
	return se
}

func exportNode(n *node) NodeExport {
	ne := NodeExport{
		Identity:    n.def.id.String(),
		Name:        n.name(),
		Kind:        n.def.kind.String(),
		Generation:  n.generation,
		Observers:   n.observerCount(),
		Pinned:      n.pinned,
		AutoDispose: n.def.autoDispose,
	}
	if snap := n.snap(); snap != nil {
		if snap.err != nil {
			ne.Error = snap.err.Error()
		} else if st, ok := snap.value.(asyncState); ok {
			ne.AsyncTag = st.tag.String()
			if st.tag == AsyncError {
				ne.Error = st.err.Error()
			} else if st.hasData {
				ne.HasValue = true
				ne.Value = fmt.Sprintf("%v", st.value)
			}
		} else {
			ne.HasValue = true
			ne.Value = fmt.Sprintf("%v", snap.value)
		}
	}
	ne.DependsOn = identityList(n.deps)
	ne.Dependents = identityList(n.dependents)
	return ne
}

func identityList(set map[*node]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m.def.id.String())
	}
	sort.Strings(out)
	return out
}
