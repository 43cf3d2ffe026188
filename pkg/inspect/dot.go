package inspect

import (
	"fmt"
	"io"
	"strings"
)

// DOT renders the snapshot as a Graphviz digraph. Every scope becomes a
// cluster, nodes are keyed by identity, and edges point from producer to
// dependent, the direction invalidation travels.
func (s *Snapshot) DOT() string {
	var b strings.Builder
	b.WriteString("digraph providers {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, fontname=\"Helvetica\"];\n")

	cluster := 0
	writeScopeDOT(&b, &s.Root, &cluster, 1)

	// Edges are emitted after all clusters so a cross-scope edge does not
	// re-home its endpoints.
	s.Root.walk(func(sc *Scope) {
		for i := range sc.Nodes {
			n := &sc.Nodes[i]
			for _, dep := range n.DependsOn {
				fmt.Fprintf(&b, "  %s -> %s;\n", dotQuote(dep), dotQuote(n.Identity))
			}
		}
	})

	b.WriteString("}\n")
	return b.String()
}

// WriteDOT writes the DOT rendering to w.
func (s *Snapshot) WriteDOT(w io.Writer) error {
	_, err := io.WriteString(w, s.DOT())
	return err
}

func writeScopeDOT(b *strings.Builder, sc *Scope, cluster *int, depth int) {
	ind := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%ssubgraph cluster_%d {\n", ind, *cluster)
	*cluster++

	label := sc.Label
	if label == "" {
		label = "scope " + shortID(sc.ID)
	}
	fmt.Fprintf(b, "%s  label=%s;\n", ind, dotQuote(label))

	for i := range sc.Nodes {
		n := &sc.Nodes[i]
		attrs := []string{"label=" + dotQuote(nodeLabel(n))}
		if n.Error != "" {
			attrs = append(attrs, "color=red")
		}
		if n.Observers > 0 {
			attrs = append(attrs, "style=filled", "fillcolor=lightyellow")
		}
		if n.Pinned {
			attrs = append(attrs, "peripheries=2")
		}
		fmt.Fprintf(b, "%s  %s [%s];\n", ind, dotQuote(n.Identity), strings.Join(attrs, ", "))
	}

	for i := range sc.Children {
		writeScopeDOT(b, &sc.Children[i], cluster, depth+1)
	}

	fmt.Fprintf(b, "%s}\n", ind)
}

func nodeLabel(n *Node) string {
	detail := n.Kind
	switch {
	case n.Error != "":
		detail += " error"
	case n.AsyncTag != "":
		detail += " " + n.AsyncTag
		if n.HasValue {
			detail += " = " + truncate(n.Value, 48)
		}
	case n.HasValue:
		detail += " = " + truncate(n.Value, 48)
	}
	if n.Generation > 1 {
		detail += fmt.Sprintf(" (gen %d)", n.Generation)
	}
	return n.Name + "\n" + detail
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dotQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
