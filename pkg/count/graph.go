// Package count condenses a pattern forest into a frequency-annotated
// pattern-type graph.
//
// The graph is a trie over the root-to-leaf paths of the forest. Forest roots
// merge by class; below a type node, forest children merge when they share a
// merge key built from their class and the predicate class of their edge.
// Every type node counts the forest leaf paths that pass through it, so a
// root's count is the number of distinct leaf-to-root paths ending at it.
package count

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

// EdgeBits is the width reserved for the edge class in a merge key.
const EdgeBits = 16

// RootEdge is the edge value used in the merge key of roots.
const RootEdge = 1<<EdgeBits - 1

// MaxEdgeClass is the largest predicate class a merge key can carry.
const MaxEdgeClass = RootEdge - 1

const maxClass = 1<<(63-EdgeBits) - 1

// Key combines a node class and the predicate class of its edge. Roots use
// temporal.NoEdge, which maps to RootEdge.
func Key(class, edgeClass int) (int64, error) {
	if class < 0 || int64(class) > maxClass {
		return 0, seqerr.New(seqerr.CodeMalformedInput, "class out of merge key range").
			WithContext("class", class)
	}
	e := int64(edgeClass)
	switch {
	case edgeClass == temporal.NoEdge:
		e = RootEdge
	case edgeClass < 0 || edgeClass > MaxEdgeClass:
		return 0, seqerr.New(seqerr.CodeMalformedInput, "edge class out of merge key range").
			WithContext("edge_class", edgeClass).
			WithContext("max", MaxEdgeClass)
	}
	return int64(class)<<EdgeBits | e, nil
}

// SplitKey is the inverse of Key.
func SplitKey(k int64) (class, edgeClass int) {
	class = int(k >> EdgeBits)
	edgeClass = int(k & RootEdge)
	if edgeClass == RootEdge {
		edgeClass = temporal.NoEdge
	}
	return class, edgeClass
}

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

// String returns a truncated hex form for logs.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])[:16] + "..."
}

// FullString returns the full hex form.
func (h Hash) FullString() string {
	return hex.EncodeToString(h[:])
}

// Node is one pattern type.
type Node struct {
	ID        int
	Label     string
	Class     int
	EdgeClass int
	Depth     int
	Parent    int
	Children  []int

	// Count is the number of forest leaf paths through this node.
	Count int
	// Terminal is the number of forest leaves that end at this node.
	Terminal int

	// Instances holds the forest nodes merged into this type.
	Instances *roaring.Bitmap
	// Support holds the forest leaves whose paths pass through this type.
	Support *roaring.Bitmap

	// Signature is a Merkle hash over class, edge, depth and the children's
	// signatures.
	Signature Hash
}

// IsRoot reports whether n has no parent type.
func (n *Node) IsRoot() bool {
	return n.Parent == temporal.NoParent
}

// IsLeaf reports whether n has no child types.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Graph is a counted pattern-type graph. Node ids are dense indexes into
// Nodes; a parent always has a smaller id than its children.
type Graph struct {
	Nodes []*Node
	Roots []int

	rootIndex  map[int64]int
	childIndex []map[int64]int
}

func newGraph() *Graph {
	return &Graph{rootIndex: make(map[int64]int)}
}

func (g *Graph) add(parent int, key int64, label string, depth int) int {
	class, edge := SplitKey(key)
	id := len(g.Nodes)
	g.Nodes = append(g.Nodes, &Node{
		ID:        id,
		Label:     label,
		Class:     class,
		EdgeClass: edge,
		Depth:     depth,
		Parent:    parent,
		Instances: roaring.New(),
		Support:   roaring.New(),
	})
	g.childIndex = append(g.childIndex, nil)
	if parent == temporal.NoParent {
		g.rootIndex[key] = id
		g.Roots = append(g.Roots, id)
	} else {
		if g.childIndex[parent] == nil {
			g.childIndex[parent] = make(map[int64]int)
		}
		g.childIndex[parent][key] = id
		g.Nodes[parent].Children = append(g.Nodes[parent].Children, id)
	}
	return id
}

func (g *Graph) lookup(parent int, key int64) (int, bool) {
	if parent == temporal.NoParent {
		id, ok := g.rootIndex[key]
		return id, ok
	}
	id, ok := g.childIndex[parent][key]
	return id, ok
}

// Count builds the pattern-type graph of forest. The forest is validated
// first and is not modified.
func Count(forest *temporal.Dataset) (*Graph, error) {
	if err := forest.Validate(); err != nil {
		return nil, err
	}
	if forest.Cap() > math.MaxUint32 {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "forest too large to count").
			WithContext("nodes", forest.Cap())
	}

	g := newGraph()
	type frame struct{ node, typ int }
	var stack []frame

	visit := func(id, parentType int) (int, error) {
		obj := forest.Object(id)
		key, err := Key(obj.Data.Class, forest.EdgeClass(id))
		if err != nil {
			return 0, seqerr.Wrap(err, seqerr.CodeStructuralInvariantViolation, "cannot merge forest node").
				WithContext("node", id)
		}
		typ, ok := g.lookup(parentType, key)
		if !ok {
			depth := 0
			if parentType != temporal.NoParent {
				depth = g.Nodes[parentType].Depth + 1
			}
			typ = g.add(parentType, key, obj.Data.Label, depth)
		}
		n := g.Nodes[typ]
		n.Instances.Add(uint32(id))
		if len(forest.Children(id)) == 0 {
			n.Terminal++
			n.Support.Add(uint32(id))
		}
		return typ, nil
	}

	for _, root := range forest.Roots() {
		typ, err := visit(root, temporal.NoParent)
		if err != nil {
			return nil, err
		}
		stack = append(stack, frame{root, typ})
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			children := forest.Children(top.node)
			for i := len(children) - 1; i >= 0; i-- {
				ct, err := visit(children[i], top.typ)
				if err != nil {
					return nil, err
				}
				stack = append(stack, frame{children[i], ct})
			}
		}
	}

	g.aggregate()
	return g, nil
}

// aggregate fills counts, support and signatures bottom-up. Children always
// have larger ids than their parent, so a reverse scan visits children first.
func (g *Graph) aggregate() {
	for i := len(g.Nodes) - 1; i >= 0; i-- {
		n := g.Nodes[i]
		n.Count += n.Terminal
		n.Signature = signature(n, g.childSignatures(n))
		if !n.IsRoot() {
			p := g.Nodes[n.Parent]
			p.Count += n.Count
			p.Support.Or(n.Support)
		}
	}
}

func (g *Graph) childSignatures(n *Node) []Hash {
	out := make([]Hash, len(n.Children))
	for i, c := range n.Children {
		out[i] = g.Nodes[c].Signature
	}
	slices.SortFunc(out, func(a, b Hash) int { return bytes.Compare(a[:], b[:]) })
	return out
}

func signature(n *Node, children []Hash) Hash {
	h := sha256.New()
	binary.Write(h, binary.LittleEndian, int64(n.Class))
	binary.Write(h, binary.LittleEndian, int64(n.EdgeClass))
	binary.Write(h, binary.LittleEndian, int64(n.Depth))
	for _, c := range children {
		h.Write(c[:])
	}
	binary.Write(h, binary.LittleEndian, int64(n.Count))

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Total returns the sum of the root counts.
func (g *Graph) Total() int {
	total := 0
	for _, r := range g.Roots {
		total += g.Nodes[r].Count
	}
	return total
}

// Leaves returns the type nodes without children, in id order.
func (g *Graph) Leaves() []int {
	var out []int
	for _, n := range g.Nodes {
		if n.IsLeaf() {
			out = append(out, n.ID)
		}
	}
	return out
}

// PathToRoot returns id followed by its ancestors.
func (g *Graph) PathToRoot(id int) []int {
	path := []int{id}
	for p := g.Nodes[id].Parent; p != temporal.NoParent; p = g.Nodes[p].Parent {
		path = append(path, p)
	}
	return path
}

// Fingerprint hashes the whole graph. Two graphs with the same structure and
// counts share a fingerprint regardless of node order.
func (g *Graph) Fingerprint() Hash {
	roots := make([]Hash, len(g.Roots))
	for i, r := range g.Roots {
		roots[i] = g.Nodes[r].Signature
	}
	slices.SortFunc(roots, func(a, b Hash) int { return bytes.Compare(a[:], b[:]) })

	h := sha256.New()
	for _, r := range roots {
		h.Write(r[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// FromNodes rebuilds a graph from nodes listed in id order, such as nodes
// read back from a manifest. Counts and signatures are taken as given.
func FromNodes(nodes []*Node) (*Graph, error) {
	g := newGraph()
	for i, n := range nodes {
		if n.ID != i {
			return nil, seqerr.New(seqerr.CodeMalformedInput, "graph node ids must be dense and ordered").
				WithContext("position", i).
				WithContext("id", n.ID)
		}
		key, err := Key(n.Class, n.EdgeClass)
		if err != nil {
			return nil, err
		}
		if n.Parent != temporal.NoParent && (n.Parent < 0 || n.Parent >= i) {
			return nil, seqerr.Structural("graph parent must precede its child", i).
				WithContext("parent", n.Parent)
		}
		if _, dup := g.lookup(n.Parent, key); dup {
			return nil, seqerr.Structural("two graph nodes share a merge key under one parent", i)
		}
		cp := *n
		cp.Children = nil
		if cp.Instances == nil {
			cp.Instances = roaring.New()
		}
		if cp.Support == nil {
			cp.Support = roaring.New()
		}
		g.Nodes = append(g.Nodes, &cp)
		g.childIndex = append(g.childIndex, nil)
		if cp.Parent == temporal.NoParent {
			g.rootIndex[key] = i
			g.Roots = append(g.Roots, i)
		} else {
			if g.childIndex[cp.Parent] == nil {
				g.childIndex[cp.Parent] = make(map[int64]int)
			}
			g.childIndex[cp.Parent][key] = i
			g.Nodes[cp.Parent].Children = append(g.Nodes[cp.Parent].Children, i)
		}
	}
	return g, nil
}
