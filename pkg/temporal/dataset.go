package temporal

import (
	"fmt"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// NoEdge is the edge class of nodes without a parent.
const NoEdge = -1

// NoParent marks a node that is not attached under another node.
const NoParent = -1

// Tuple is the data half of a temporal object.
type Tuple struct {
	Label  string
	Class  int
	Value  float64
	Fields map[string]any
}

func (t Tuple) clone() Tuple {
	out := t
	if t.Fields != nil {
		out.Fields = make(map[string]any, len(t.Fields))
		for k, v := range t.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Object pairs an element id with a data tuple.
type Object struct {
	ID        int
	ElementID int64
	Data      Tuple
}

type node struct {
	obj       Object
	parent    int
	children  []int
	edgeClass int
	root      bool
	removed   bool
}

// Dataset holds temporal objects, their element store and a forest among
// them. Object ids are dense indexes into an arena and are never reused, so
// removing a node cannot invalidate the ids of other nodes.
//
// A Dataset is not safe for concurrent mutation.
type Dataset struct {
	Name  string
	store *Store
	nodes []node
	roots []int
	live  int
}

// NewDataset creates an empty dataset with its own element store.
func NewDataset(name string) *Dataset {
	return &Dataset{Name: name, store: NewStore()}
}

// Store returns the dataset's element store.
func (d *Dataset) Store() *Store {
	return d.store
}

// Len returns the number of live (not removed) objects.
func (d *Dataset) Len() int {
	return d.live
}

// Cap returns the arena size; valid ids are in [0, Cap()).
func (d *Dataset) Cap() int {
	return len(d.nodes)
}

// Add appends an object referencing a stored element. The object starts
// outside the forest.
func (d *Dataset) Add(elementID int64, data Tuple) (int, error) {
	if _, ok := d.store.Get(elementID); !ok {
		return 0, seqerr.New(seqerr.CodeMalformedInput, "object references unknown element").
			WithContext("element", elementID)
	}
	id := len(d.nodes)
	d.nodes = append(d.nodes, node{
		obj:       Object{ID: id, ElementID: elementID, Data: data},
		parent:    NoParent,
		edgeClass: NoEdge,
	})
	d.live++
	return id, nil
}

// Alive reports whether id names a live object.
func (d *Dataset) Alive(id int) bool {
	return id >= 0 && id < len(d.nodes) && !d.nodes[id].removed
}

// Object returns the object with the given id.
func (d *Dataset) Object(id int) Object {
	return d.nodes[id].obj
}

// SetData replaces the data tuple of a live object.
func (d *Dataset) SetData(id int, data Tuple) {
	d.nodes[id].obj.Data = data
}

// Element returns the element of the object with the given id.
func (d *Dataset) Element(id int) Element {
	return d.store.MustGet(d.nodes[id].obj.ElementID)
}

// Objects returns the ids of all live objects in insertion order.
func (d *Dataset) Objects() []int {
	out := make([]int, 0, d.live)
	for i := range d.nodes {
		if !d.nodes[i].removed {
			out = append(out, i)
		}
	}
	return out
}

func (d *Dataset) check(id int) error {
	if !d.Alive(id) {
		return seqerr.Structural("node does not exist", id)
	}
	return nil
}

// AddRoot registers a live, unattached object as a forest root.
func (d *Dataset) AddRoot(id int) error {
	if err := d.check(id); err != nil {
		return err
	}
	n := &d.nodes[id]
	if n.parent != NoParent {
		return seqerr.Structural("attached node cannot become a root", id)
	}
	if n.root {
		return nil
	}
	n.root = true
	d.roots = append(d.roots, id)
	return nil
}

// Attach makes child the last child of parent, with the given edge class.
// A node can hold at most one parent and cannot already be a root.
func (d *Dataset) Attach(parent, child, edgeClass int) error {
	if err := d.check(parent); err != nil {
		return err
	}
	if err := d.check(child); err != nil {
		return err
	}
	if parent == child {
		return seqerr.Structural("node cannot be its own parent", child)
	}
	c := &d.nodes[child]
	if c.parent != NoParent {
		return seqerr.Structural("node already has a parent", child).
			WithContext("parent", c.parent)
	}
	if c.root {
		return seqerr.Structural("root cannot be attached under another node", child)
	}
	if edgeClass < 0 {
		return seqerr.Structural("edge class must be non-negative", child).
			WithContext("edge_class", edgeClass)
	}
	for p := parent; p != NoParent; p = d.nodes[p].parent {
		if p == child {
			return seqerr.Structural("attachment would create a cycle", child)
		}
	}
	c.parent = parent
	c.edgeClass = edgeClass
	d.nodes[parent].children = append(d.nodes[parent].children, child)
	return nil
}

// InForest reports whether id is a root or attached under one.
func (d *Dataset) InForest(id int) bool {
	if !d.Alive(id) {
		return false
	}
	n := d.nodes[id]
	return n.root || n.parent != NoParent
}

// Roots returns the live roots in registration order.
func (d *Dataset) Roots() []int {
	return append([]int(nil), d.roots...)
}

// IsRoot reports whether id is a registered root.
func (d *Dataset) IsRoot(id int) bool {
	return d.Alive(id) && d.nodes[id].root
}

// Parent returns the parent of id.
func (d *Dataset) Parent(id int) (int, bool) {
	p := d.nodes[id].parent
	return p, p != NoParent
}

// EdgeClass returns the class of the edge from id to its parent, or NoEdge.
func (d *Dataset) EdgeClass(id int) int {
	return d.nodes[id].edgeClass
}

// Children returns the ordered children of id. The slice must not be
// modified.
func (d *Dataset) Children(id int) []int {
	return d.nodes[id].children
}

// Leaves returns the forest nodes without children, in id order.
func (d *Dataset) Leaves() []int {
	var out []int
	for i := range d.nodes {
		if d.InForest(i) && len(d.nodes[i].children) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Depth returns the number of edges between id and its root.
func (d *Dataset) Depth(id int) int {
	depth := 0
	for p := d.nodes[id].parent; p != NoParent; p = d.nodes[p].parent {
		depth++
	}
	return depth
}

// PathToRoot returns id followed by its ancestors up to the root.
func (d *Dataset) PathToRoot(id int) []int {
	path := []int{id}
	for p := d.nodes[id].parent; p != NoParent; p = d.nodes[p].parent {
		path = append(path, p)
	}
	return path
}

// ForestSize returns the number of live nodes in the forest.
func (d *Dataset) ForestSize() int {
	n := 0
	for i := range d.nodes {
		if d.InForest(i) {
			n++
		}
	}
	return n
}

// RemoveLeaf deletes a childless forest node, detaching it from its parent
// or from the root list. It reports the former parent, or NoParent.
func (d *Dataset) RemoveLeaf(id int) (int, error) {
	if err := d.check(id); err != nil {
		return NoParent, err
	}
	n := &d.nodes[id]
	if len(n.children) > 0 {
		return NoParent, seqerr.Structural("cannot remove a node that has children", id).
			WithContext("children", len(n.children))
	}

	parent := n.parent
	if parent != NoParent {
		siblings := d.nodes[parent].children
		idx := -1
		for i, c := range siblings {
			if c == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return NoParent, seqerr.Structural("dangling edge: node missing from parent's children", id).
				WithContext("parent", parent)
		}
		d.nodes[parent].children = append(siblings[:idx:idx], siblings[idx+1:]...)
	}
	if n.root {
		for i, r := range d.roots {
			if r == id {
				d.roots = append(d.roots[:i:i], d.roots[i+1:]...)
				break
			}
		}
	}

	n.parent = NoParent
	n.edgeClass = NoEdge
	n.root = false
	n.removed = true
	d.live--
	return parent, nil
}

// Validate checks the forest invariants: single parents, parent/child
// agreement, roots without parents, every attached node reachable from a
// root and no cycles.
func (d *Dataset) Validate() error {
	seenChild := make(map[int]int)
	for i := range d.nodes {
		n := d.nodes[i]
		if n.removed {
			if n.parent != NoParent || len(n.children) > 0 || n.root {
				return seqerr.Structural("removed node still linked", i)
			}
			continue
		}
		if n.root && n.parent != NoParent {
			return seqerr.Structural("root has a parent", i)
		}
		for _, c := range n.children {
			if !d.Alive(c) {
				return seqerr.Structural("dangling edge to removed node", c).WithContext("parent", i)
			}
			if prev, dup := seenChild[c]; dup {
				return seqerr.Structural("node listed under more than one parent", c).
					WithContext("parent", i).
					WithContext("other_parent", prev)
			}
			seenChild[c] = i
			if d.nodes[c].parent != i {
				return seqerr.Structural("child does not point back to parent", c).WithContext("parent", i)
			}
		}
		if n.parent != NoParent {
			if seenParent, ok := seenChild[i]; ok && seenParent != n.parent {
				return seqerr.Structural("parent pointer disagrees with children list", i)
			}
		}
	}

	for i := range d.nodes {
		if !d.InForest(i) {
			continue
		}
		steps := 0
		p := i
		for d.nodes[p].parent != NoParent {
			p = d.nodes[p].parent
			steps++
			if steps > len(d.nodes) {
				return seqerr.Structural("cycle in forest", i)
			}
		}
		if !d.nodes[p].root {
			return seqerr.Structural("node is not reachable from a root", i).WithContext("top", p)
		}
		if d.nodes[i].parent != NoParent {
			if _, ok := seenChild[i]; !ok {
				return seqerr.Structural("dangling edge: node missing from parent's children", i)
			}
		}
	}
	return nil
}

// String summarizes the dataset for logs.
func (d *Dataset) String() string {
	return fmt.Sprintf("%s(objects=%d roots=%d forest=%d)", d.Name, d.live, len(d.roots), d.ForestSize())
}

// Import copies an object from src, including its element, into d as a new
// object outside the forest.
func (d *Dataset) Import(src *Dataset, id int) (int, error) {
	if !src.Alive(id) {
		return 0, seqerr.Structural("source node does not exist", id)
	}
	obj := src.nodes[id].obj
	e, err := d.store.Import(src.store, obj.ElementID)
	if err != nil {
		return 0, err
	}
	return d.Add(e.ID, obj.Data.clone())
}

// Clone returns a deep copy of the dataset, including removed slots, so that
// object ids stay valid in the copy.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Name:  d.Name,
		store: d.store.clone(),
		nodes: make([]node, len(d.nodes)),
		roots: append([]int(nil), d.roots...),
		live:  d.live,
	}
	for i, n := range d.nodes {
		n.obj.Data = n.obj.Data.clone()
		n.children = append([]int(nil), n.children...)
		out.nodes[i] = n
	}
	return out
}
