// Package prune removes under-supported branches from a pattern forest.
package prune

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/seqmine/pkg/count"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

// Pair is one step of a prune signature.
type Pair struct {
	Class     int
	EdgeClass int
}

// Signature is the (class, edge class) sequence from a pattern leaf up to
// its root.
type Signature []Pair

func (s Signature) key() string {
	var sb strings.Builder
	for i, p := range s {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(strconv.Itoa(p.Class))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(p.EdgeClass))
	}
	return sb.String()
}

func (s Signature) String() string {
	return "[" + s.key() + "]"
}

// Skip records a removal that was not applied.
type Skip struct {
	Node   int
	Reason string
}

// Result describes one pruning pass.
type Result struct {
	Total      int
	Required   int
	Signatures []Signature
	Removed    *roaring.Bitmap
	Skipped    []Skip
	Before     int
	After      int
}

// RemovedCount returns the number of removed forest nodes.
func (r *Result) RemovedCount() int {
	return int(r.Removed.GetCardinality())
}

func (r *Result) String() string {
	return fmt.Sprintf("total=%d required=%d signatures=%d removed=%d skipped=%d forest=%d->%d",
		r.Total, r.Required, len(r.Signatures), r.RemovedCount(), len(r.Skipped), r.Before, r.After)
}

// Required returns ceil(total * ratio). The ratio must lie in [0, 1].
func Required(total int, ratio float64) (int, error) {
	if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
		return 0, seqerr.New(seqerr.CodeMalformedInput, "minimum support ratio must be within [0, 1]").
			WithContext("ratio", ratio)
	}
	return int(math.Ceil(float64(total) * ratio)), nil
}

// Signatures returns the signatures of graph leaves whose count is below
// required, in graph order.
func Signatures(g *count.Graph, required int) []Signature {
	var out []Signature
	for _, id := range g.Leaves() {
		if g.Nodes[id].Count >= required {
			continue
		}
		path := g.PathToRoot(id)
		sig := make(Signature, len(path))
		for i, p := range path {
			sig[i] = Pair{Class: g.Nodes[p].Class, EdgeClass: g.Nodes[p].EdgeClass}
		}
		out = append(out, sig)
	}
	return out
}

func pathSignature(forest *temporal.Dataset, path []int) Signature {
	sig := make(Signature, len(path))
	for i, id := range path {
		sig[i] = Pair{Class: forest.Object(id).Data.Class, EdgeClass: forest.EdgeClass(id)}
	}
	return sig
}

// Prune runs one pass over forest using the counts in g.
//
// Every forest leaf whose root-ward path equals a signature is removed,
// followed by each ancestor left without children. The chain for a leaf is
// checked before anything is removed; a chain that cannot be applied as a
// whole is skipped and reported, so the forest is never left half-pruned.
func Prune(forest *temporal.Dataset, g *count.Graph, ratio float64) (*Result, error) {
	total := g.Total()
	required, err := Required(total, ratio)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Total:      total,
		Required:   required,
		Signatures: Signatures(g, required),
		Removed:    roaring.New(),
		Before:     forest.ForestSize(),
	}
	if len(res.Signatures) == 0 {
		res.After = res.Before
		return res, nil
	}

	sigs := make(map[string]bool, len(res.Signatures))
	for _, s := range res.Signatures {
		sigs[s.key()] = true
	}

	for _, leaf := range forest.Leaves() {
		if !forest.InForest(leaf) || len(forest.Children(leaf)) > 0 {
			continue
		}
		path := forest.PathToRoot(leaf)
		if !sigs[pathSignature(forest, path).key()] {
			continue
		}
		chain, reason := removalChain(forest, path)
		if reason != "" {
			res.Skipped = append(res.Skipped, Skip{Node: leaf, Reason: reason})
			continue
		}
		for _, id := range chain {
			if _, err := forest.RemoveLeaf(id); err != nil {
				// the chain was checked, so this is a broken forest
				return nil, seqerr.Wrap(err, seqerr.CodeStructuralInvariantViolation, "prune left the forest inconsistent").
					WithContext("leaf", leaf)
			}
			res.Removed.Add(uint32(id))
		}
	}

	if err := forest.Validate(); err != nil {
		return nil, err
	}
	res.After = forest.ForestSize()
	return res, nil
}

// removalChain returns the nodes to remove for the leaf at path[0]: the leaf
// and every ancestor whose only child is the previous node in the chain.
func removalChain(forest *temporal.Dataset, path []int) ([]int, string) {
	chain := []int{path[0]}
	for i := 1; i < len(path); i++ {
		id := path[i]
		kids := forest.Children(id)
		if len(kids) == 0 {
			return nil, "ancestor has no children"
		}
		if len(kids) > 1 {
			break
		}
		if kids[0] != path[i-1] {
			return nil, "ancestor does not list the path node as its child"
		}
		chain = append(chain, id)
	}
	if p, ok := forest.Parent(chain[len(chain)-1]); !ok && !forest.IsRoot(chain[len(chain)-1]) {
		return nil, fmt.Sprintf("node %d is detached", chain[len(chain)-1])
	} else if ok && !forest.Alive(p) {
		return nil, "parent was removed"
	}
	return chain, ""
}

// Fixpoint repeats count and prune until a pass removes nothing, and returns
// the final graph with every pass's result. A second run over the returned
// forest with the same ratio removes nothing.
func Fixpoint(forest *temporal.Dataset, ratio float64) (*count.Graph, []*Result, error) {
	var results []*Result
	for {
		g, err := count.Count(forest)
		if err != nil {
			return nil, results, err
		}
		res, err := Prune(forest, g, ratio)
		if err != nil {
			return nil, results, err
		}
		results = append(results, res)
		if res.RemovedCount() == 0 {
			return g, results, nil
		}
	}
}
