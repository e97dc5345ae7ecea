package count

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Step is one element of a pattern path.
type Step struct {
	Class     int
	EdgeClass int
	Label     string
}

// Variant is a distinct root-to-node pattern ending at a type node where
// forest leaves terminate.
type Variant struct {
	Node  int
	Steps []Step
	Count int
}

// String renders the variant from the root down, e.g. "high <-p0- low".
func (v Variant) String() string {
	var sb strings.Builder
	for i, s := range v.Steps {
		if i > 0 {
			fmt.Fprintf(&sb, " <-p%d- ", s.EdgeClass)
		}
		sb.WriteString(s.Label)
	}
	return sb.String()
}

// Steps returns the path from the root type down to id.
func (g *Graph) Steps(id int) []Step {
	path := g.PathToRoot(id)
	steps := make([]Step, len(path))
	for i, pid := range path {
		p := g.Nodes[pid]
		steps[len(path)-1-i] = Step{Class: p.Class, EdgeClass: p.EdgeClass, Label: p.Label}
	}
	return steps
}

// Pattern renders the path of id the way Variant.String does.
func (g *Graph) Pattern(id int) string {
	return Variant{Node: id, Steps: g.Steps(id)}.String()
}

// Variants lists every type node with terminating leaves, most frequent
// first. Ties are ordered by path length, then node id.
func (g *Graph) Variants() []Variant {
	var out []Variant
	for _, n := range g.Nodes {
		if n.Terminal == 0 {
			continue
		}
		out = append(out, Variant{Node: n.ID, Steps: g.Steps(n.ID), Count: n.Terminal})
	}
	slices.SortFunc(out, func(a, b Variant) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(len(a.Steps), len(b.Steps)); c != 0 {
			return c
		}
		return cmp.Compare(a.Node, b.Node)
	})
	return out
}

// Distribution returns, per depth, the summed count of the type nodes at
// that depth.
func (g *Graph) Distribution() []int {
	var out []int
	for _, n := range g.Nodes {
		for len(out) <= n.Depth {
			out = append(out, 0)
		}
		out[n.Depth] += n.Count
	}
	return out
}

// Stats summarizes a graph.
type Stats struct {
	Types    int
	Roots    int
	Leaves   int
	Total    int
	MaxDepth int
}

// Stats returns summary figures for logs and reports.
func (g *Graph) Stats() Stats {
	s := Stats{Types: len(g.Nodes), Roots: len(g.Roots), Total: g.Total()}
	for _, n := range g.Nodes {
		if n.IsLeaf() {
			s.Leaves++
		}
		s.MaxDepth = max(s.MaxDepth, n.Depth)
	}
	return s
}
