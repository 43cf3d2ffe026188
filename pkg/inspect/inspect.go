// Package inspect produces point-in-time snapshots of a provider scope tree
// for debugging and tooling. A Snapshot is a plain document: it can be
// YAML-encoded losslessly, decoded back, and rendered to Graphviz DOT.
//
// Snapshots are captured under the runtime gate, so they are internally
// consistent: every edge refers to a node that exists in the same capture.
package inspect

import (
	"time"

	"github.com/go-drift/current/pkg/provider"
)

// Snapshot is a captured scope tree.
type Snapshot struct {
	CapturedAt time.Time `yaml:"captured_at"`
	Root       Scope     `yaml:"root"`
}

// Scope describes one scope, its live nodes, and its child scopes.
type Scope struct {
	ID       string  `yaml:"id"`
	Label    string  `yaml:"label,omitempty"`
	Depth    int     `yaml:"depth"`
	Nodes    []Node  `yaml:"nodes,omitempty"`
	Children []Scope `yaml:"children,omitempty"`
}

// Node describes one live provider instance. DependsOn and Dependents list
// node identities; both sides of every edge appear somewhere in the capture.
type Node struct {
	Identity    string   `yaml:"identity"`
	Name        string   `yaml:"name"`
	Kind        string   `yaml:"kind"`
	Generation  uint64   `yaml:"generation"`
	Observers   int      `yaml:"observers,omitempty"`
	Pinned      bool     `yaml:"pinned,omitempty"`
	AutoDispose bool     `yaml:"auto_dispose,omitempty"`
	HasValue    bool     `yaml:"has_value,omitempty"`
	Value       string   `yaml:"value,omitempty"`
	Error       string   `yaml:"error,omitempty"`
	AsyncTag    string   `yaml:"async_tag,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Dependents  []string `yaml:"dependents,omitempty"`
}

// Capture takes a consistent snapshot of the scope tree rooted at s.
// Capturing a disposed scope yields a snapshot with no nodes.
func Capture(s *provider.Scope) *Snapshot {
	ex := s.Export()
	return &Snapshot{
		CapturedAt: ex.CapturedAt,
		Root:       convertScope(ex.Root),
	}
}

func convertScope(se provider.ScopeExport) Scope {
	out := Scope{
		ID:    se.ID,
		Label: se.Label,
		Depth: se.Depth,
	}
	for _, n := range se.Nodes {
		out.Nodes = append(out.Nodes, Node(n))
	}
	for _, c := range se.Children {
		out.Children = append(out.Children, convertScope(c))
	}
	return out
}

// Stats summarizes a snapshot.
type Stats struct {
	Scopes int
	Nodes  int
	Edges  int
}

// Stats counts the scopes, nodes, and dependency edges in the snapshot.
func (s *Snapshot) Stats() Stats {
	var st Stats
	s.Root.walk(func(sc *Scope) {
		st.Scopes++
		for i := range sc.Nodes {
			st.Nodes++
			st.Edges += len(sc.Nodes[i].DependsOn)
		}
	})
	return st
}

// Find returns the first node whose Name matches, searching the scope tree
// depth-first in capture order.
func (s *Snapshot) Find(name string) (Node, bool) {
	var found Node
	ok := false
	s.Root.walk(func(sc *Scope) {
		if ok {
			return
		}
		for i := range sc.Nodes {
			if sc.Nodes[i].Name == name {
				found = sc.Nodes[i]
				ok = true
				return
			}
		}
	})
	return found, ok
}

func (sc *Scope) walk(fn func(*Scope)) {
	fn(sc)
	for i := range sc.Children {
		sc.Children[i].walk(fn)
	}
}
