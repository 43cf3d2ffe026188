package provider

import (
	"context"
	"testing"
)

func findExportedNode(se ScopeExport, name string) *NodeExport {
	for i := range se.Nodes {
		if se.Nodes[i].Name == name {
			return &se.Nodes[i]
		}
	}
	return nil
}

func TestExportCapturesScopesNodesAndEdges(t *testing.T) {
	count := NewState("exp-count", 1)
	doubled := New("exp-doubled", func(r *Ref) int {
		return Watch(r, count) * 2
	})
	root := NewScope(WithLabel("app"))
	defer root.Dispose()
	child := root.NewChild(WithLabel("request"), WithOverrides(OverrideState(count, 100)))

	if got := Read(child, doubled); got != 200 {
		t.Fatalf("child doubled = %d, want 200", got)
	}
	if got := Read(root, doubled); got != 2 {
		t.Fatalf("root doubled = %d, want 2", got)
	}

	ex := root.Export()
	if ex.Root.Label != "app" {
		t.Errorf("root label = %q, want app", ex.Root.Label)
	}
	if len(ex.Root.Children) != 1 {
		t.Fatalf("children = %d, want 1", len(ex.Root.Children))
	}
	sub := ex.Root.Children[0]
	if sub.Label != "request" {
		t.Errorf("child label = %q, want request", sub.Label)
	}
	if sub.Depth != 1 {
		t.Errorf("child depth = %d, want 1", sub.Depth)
	}

	rootDoubled := findExportedNode(ex.Root, "exp-doubled")
	if rootDoubled == nil {
		t.Fatal("root export missing exp-doubled")
	}
	if rootDoubled.Value != "2" || !rootDoubled.HasValue {
		t.Errorf("root doubled value = %q (has %v), want 2", rootDoubled.Value, rootDoubled.HasValue)
	}
	if rootDoubled.Kind != "provider" {
		t.Errorf("kind = %q, want provider", rootDoubled.Kind)
	}
	if len(rootDoubled.DependsOn) != 1 || rootDoubled.DependsOn[0] != count.Identity().String() {
		t.Errorf("depends on = %v, want [%s]", rootDoubled.DependsOn, count.Identity())
	}

	rootCount := findExportedNode(ex.Root, "exp-count")
	if rootCount == nil {
		t.Fatal("root export missing exp-count")
	}
	if rootCount.Kind != "state" {
		t.Errorf("count kind = %q, want state", rootCount.Kind)
	}
	if len(rootCount.Dependents) != 1 || rootCount.Dependents[0] != doubled.Identity().String() {
		t.Errorf("dependents = %v, want [%s]", rootCount.Dependents, doubled.Identity())
	}

	childDoubled := findExportedNode(sub, "exp-doubled")
	if childDoubled == nil {
		t.Fatal("child export missing its own exp-doubled")
	}
	if childDoubled.Value != "200" {
		t.Errorf("child doubled value = %q, want 200", childDoubled.Value)
	}
}

func TestExportAsyncStates(t *testing.T) {
	feed := NewAsync("exp-feed", func(ctx context.Context, r *Ref) (int, error) {
		return 8, nil
	})
	s := NewScope()
	defer s.Dispose()

	if _, err := Await(awaitCtx(t), s, feed); err != nil {
		t.Fatalf("Await: %v", err)
	}
	ex := s.Export()
	n := findExportedNode(ex.Root, "exp-feed")
	if n == nil {
		t.Fatal("export missing exp-feed")
	}
	if n.Kind != "async" {
		t.Errorf("kind = %q, want async", n.Kind)
	}
	if n.AsyncTag != "data" {
		t.Errorf("async tag = %q, want data", n.AsyncTag)
	}
	if n.Value != "8" || !n.HasValue {
		t.Errorf("value = %q (has %v), want 8", n.Value, n.HasValue)
	}
}

func TestExportSkipsDisposedChildren(t *testing.T) {
	p := New("exp-temp", func(r *Ref) int { return 1 })
	root := NewScope()
	defer root.Dispose()
	child := root.NewChild(WithLabel("gone"), WithOverrides(OverrideValue(p, 2)))
	Read(child, p)
	child.Dispose()

	ex := root.Export()
	if len(ex.Root.Children) != 0 {
		t.Errorf("children after dispose = %d, want 0", len(ex.Root.Children))
	}
}

func TestExportMarksPinnedAndObserved(t *testing.T) {
	p := New("exp-pinned", func(r *Ref) int { return 1 }, KeepAlive())
	q := NewState("exp-observed", 0)
	s := NewScope()
	defer s.Dispose()

	Read(s, p)
	sub := Observe(s, q, func(int) {})
	defer sub.Close()

	ex := s.Export()
	pn := findExportedNode(ex.Root, "exp-pinned")
	if pn == nil || !pn.Pinned {
		t.Errorf("exp-pinned export = %+v, want pinned", pn)
	}
	qn := findExportedNode(ex.Root, "exp-observed")
	if qn == nil || qn.Observers != 1 {
		t.Errorf("exp-observed export = %+v, want one observer", qn)
	}
}
