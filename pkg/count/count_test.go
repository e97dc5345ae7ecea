package count

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/seqmine/pkg/calendar"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

var ms = calendar.Granularity{CalendarID: calendar.GregorianID, GranularityID: calendar.Millisecond, ContextGranularityID: calendar.Top}

func node(t *testing.T, ds *temporal.Dataset, class int) int {
	t.Helper()
	el := ds.Store().AddInstant(int64(ds.Cap()), ms)
	id, err := ds.Add(el.ID, temporal.Tuple{Label: string(rune('a' + class)), Class: class})
	require.NoError(t, err)
	return id
}

func TestCount_SharedLeaves(t *testing.T) {
	ds := temporal.NewDataset("f")
	root := node(t, ds, 1)
	require.NoError(t, ds.AddRoot(root))
	for i := 0; i < 2; i++ {
		leaf := node(t, ds, 2)
		require.NoError(t, ds.Attach(root, leaf, 7))
	}

	g, err := Count(ds)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
	require.Equal(t, []int{0}, g.Roots)

	child := g.Nodes[1]
	assert.Equal(t, 2, child.Class)
	assert.Equal(t, 7, child.EdgeClass)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, 2, child.Count)
	assert.Equal(t, uint64(2), child.Instances.GetCardinality())
	assert.Equal(t, 2, g.Nodes[0].Count)
	assert.Equal(t, 2, g.Total())
	assert.Equal(t, []int{1}, g.Leaves())
}

func TestCount_RootsMergeByClass(t *testing.T) {
	ds := temporal.NewDataset("f")
	a := node(t, ds, 0)
	b := node(t, ds, 0)
	c := node(t, ds, 1)
	for _, r := range []int{a, b, c} {
		require.NoError(t, ds.AddRoot(r))
	}
	x := node(t, ds, 1)
	require.NoError(t, ds.Attach(a, x, 0))
	y := node(t, ds, 1)
	require.NoError(t, ds.Attach(b, y, 1))

	g, err := Count(ds)
	require.NoError(t, err)
	require.Len(t, g.Roots, 2)
	assert.Equal(t, 2, g.Nodes[g.Roots[0]].Count)
	assert.Equal(t, 1, g.Nodes[g.Roots[1]].Count)
	assert.Len(t, g.Nodes[g.Roots[0]].Children, 2, "different edge classes stay apart")

	vs := g.Variants()
	require.Len(t, vs, 3)
	for _, v := range vs {
		assert.Equal(t, 1, v.Count)
	}
	assert.Equal(t, []int{3, 2}, g.Distribution())
}

func TestKey(t *testing.T) {
	k, err := Key(3, 7)
	require.NoError(t, err)
	c, e := SplitKey(k)
	assert.Equal(t, 3, c)
	assert.Equal(t, 7, e)

	k, err = Key(3, temporal.NoEdge)
	require.NoError(t, err)
	_, e = SplitKey(k)
	assert.Equal(t, temporal.NoEdge, e)

	// keys never collide across (class, edge) pairs
	a, _ := Key(1, 0)
	b, _ := Key(0, MaxEdgeClass)
	assert.NotEqual(t, a, b)

	_, err = Key(1, MaxEdgeClass+1)
	assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput))
	_, err = Key(-1, 0)
	assert.Error(t, err)
}

func TestCount_RejectsWideEdgeClass(t *testing.T) {
	ds := temporal.NewDataset("f")
	r := node(t, ds, 0)
	require.NoError(t, ds.AddRoot(r))
	require.NoError(t, ds.Attach(r, node(t, ds, 0), MaxEdgeClass+1))

	_, err := Count(ds)
	assert.True(t, seqerr.IsCode(err, seqerr.CodeStructuralInvariantViolation))
}

// randomForest builds a forest whose shape depends on rng. When reverse is
// set, children are attached in the opposite order.
func randomForest(t *testing.T, rng *rand.Rand, reverse bool) *temporal.Dataset {
	t.Helper()
	type spec struct {
		class, edge int
		children    []spec
	}
	var gen func(depth int) spec
	gen = func(depth int) spec {
		s := spec{class: rng.Intn(3), edge: rng.Intn(2)}
		if depth < 3 {
			for i := rng.Intn(3); i > 0; i-- {
				s.children = append(s.children, gen(depth+1))
			}
		}
		return s
	}

	ds := temporal.NewDataset("random")
	var build func(parent int, s spec)
	build = func(parent int, s spec) {
		id := node(t, ds, s.class)
		if parent < 0 {
			require.NoError(t, ds.AddRoot(id))
		} else {
			require.NoError(t, ds.Attach(parent, id, s.edge))
		}
		kids := s.children
		for i := range kids {
			k := kids[i]
			if reverse {
				k = kids[len(kids)-1-i]
			}
			build(id, k)
		}
	}
	roots := make([]spec, 1+rng.Intn(4))
	for i := range roots {
		roots[i] = gen(0)
	}
	for i := range roots {
		r := roots[i]
		if reverse {
			r = roots[len(roots)-1-i]
		}
		build(-1, r)
	}
	return ds
}

func TestCount_Conservation(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		ds := randomForest(t, rand.New(rand.NewSource(seed)), false)
		g, err := Count(ds)
		require.NoError(t, err)

		paths := make(map[int]int)
		for _, leaf := range ds.Leaves() {
			path := ds.PathToRoot(leaf)
			root := path[len(path)-1]
			paths[ds.Object(root).Data.Class]++
		}
		for _, r := range g.Roots {
			n := g.Nodes[r]
			require.Equal(t, paths[n.Class], n.Count, "seed %d class %d", seed, n.Class)
		}
		for _, n := range g.Nodes {
			require.Equal(t, uint64(n.Count), n.Support.GetCardinality())
		}
		require.Equal(t, len(ds.Leaves()), g.Total())
	}
}

func TestCount_OrderIndependent(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		a, err := Count(randomForest(t, rand.New(rand.NewSource(seed)), false))
		require.NoError(t, err)
		b, err := Count(randomForest(t, rand.New(rand.NewSource(seed)), true))
		require.NoError(t, err)
		assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "seed %d", seed)
		assert.Equal(t, a.Stats(), b.Stats())
	}
}
