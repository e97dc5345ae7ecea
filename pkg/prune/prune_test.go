package prune

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/seqmine/pkg/calendar"
	"github.com/logflow/seqmine/pkg/count"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

var ms = calendar.Granularity{CalendarID: calendar.GregorianID, GranularityID: calendar.Millisecond, ContextGranularityID: calendar.Top}

type forest struct {
	t  *testing.T
	ds *temporal.Dataset
}

func newForest(t *testing.T) *forest {
	return &forest{t: t, ds: temporal.NewDataset("patterns")}
}

func (f *forest) node(class int) int {
	f.t.Helper()
	el := f.ds.Store().AddInstant(int64(f.ds.Cap()), ms)
	id, err := f.ds.Add(el.ID, temporal.Tuple{Class: class})
	require.NoError(f.t, err)
	return id
}

func (f *forest) root(class int) int {
	id := f.node(class)
	require.NoError(f.t, f.ds.AddRoot(id))
	return id
}

func (f *forest) child(parent, class, edge int) int {
	id := f.node(class)
	require.NoError(f.t, f.ds.Attach(parent, id, edge))
	return id
}

func TestPrune_RemovesOrphanedAncestors(t *testing.T) {
	f := newForest(t)
	r1 := f.root(0)
	a := f.child(r1, 1, 0)
	r2 := f.root(0)
	b := f.child(r2, 1, 0)
	r3 := f.root(0)
	c := f.child(r3, 2, 1)

	g, err := count.Count(f.ds)
	require.NoError(t, err)
	res, err := Prune(f.ds, g, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Required)
	require.Len(t, res.Signatures, 1)
	assert.Equal(t, Signature{{2, 1}, {0, temporal.NoEdge}}, res.Signatures[0])
	assert.ElementsMatch(t, []uint32{uint32(c), uint32(r3)}, res.Removed.ToArray())
	assert.Equal(t, 6, res.Before)
	assert.Equal(t, 4, res.After)

	assert.False(t, f.ds.Alive(r3))
	assert.Equal(t, []int{r1, r2}, f.ds.Roots())
	assert.Equal(t, []int{a, b}, f.ds.Leaves())
	require.NoError(t, f.ds.Validate())
}

func TestPrune_KeepsAncestorWithOtherChildren(t *testing.T) {
	f := newForest(t)
	r := f.root(0)
	a := f.child(r, 1, 0)
	c := f.child(r, 2, 1)
	r2 := f.root(0)
	f.child(r2, 1, 0)

	g, err := count.Count(f.ds)
	require.NoError(t, err)
	res, err := Prune(f.ds, g, 0.5)
	require.NoError(t, err)

	assert.Equal(t, []uint32{uint32(c)}, res.Removed.ToArray())
	assert.True(t, f.ds.Alive(r))
	assert.Equal(t, []int{a}, f.ds.Children(r))
}

func TestPrune_ZeroRatioKeepsEverything(t *testing.T) {
	f := newForest(t)
	r := f.root(0)
	f.child(r, 1, 0)

	g, err := count.Count(f.ds)
	require.NoError(t, err)
	res, err := Prune(f.ds, g, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RemovedCount())
	assert.Empty(t, res.Signatures)
	assert.Equal(t, 2, f.ds.ForestSize())
}

func TestRequired(t *testing.T) {
	n, err := Required(10, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = Required(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, bad := range []float64{-0.1, 1.5, math.NaN()} {
		_, err := Required(10, bad)
		assert.True(t, seqerr.IsCode(err, seqerr.CodeMalformedInput), "ratio %v", bad)
	}
}

func randomForest(t *testing.T, rng *rand.Rand) *forest {
	f := newForest(t)
	var grow func(parent, depth int)
	grow = func(parent, depth int) {
		if depth >= 4 {
			return
		}
		for i := rng.Intn(3); i > 0; i-- {
			id := f.child(parent, rng.Intn(3), rng.Intn(2))
			grow(id, depth+1)
		}
	}
	for i := 1 + rng.Intn(6); i > 0; i-- {
		grow(f.root(rng.Intn(2)), 0)
	}
	return f
}

func TestPrune_MonotoneAndIdempotent(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		f := randomForest(t, rng)
		ratio := []float64{0.1, 0.3, 0.5, 0.8}[rng.Intn(4)]
		before := f.ds.ForestSize()

		g, results, err := Fixpoint(f.ds, ratio)
		require.NoError(t, err, "seed %d", seed)
		require.NoError(t, f.ds.Validate())
		require.LessOrEqual(t, f.ds.ForestSize(), before)
		for _, r := range results {
			require.LessOrEqual(t, r.After, r.Before)
			require.Empty(t, r.Skipped)
		}

		// nothing left to prune
		required, _ := Required(g.Total(), ratio)
		sigs := make(map[string]bool)
		for _, s := range Signatures(g, required) {
			sigs[s.key()] = true
		}
		for _, leaf := range f.ds.Leaves() {
			sig := pathSignature(f.ds, f.ds.PathToRoot(leaf))
			require.False(t, sigs[sig.key()], "seed %d leaf %d still matches %s", seed, leaf, sig)
		}

		size := f.ds.ForestSize()
		again, err := count.Count(f.ds)
		require.NoError(t, err)
		res, err := Prune(f.ds, again, ratio)
		require.NoError(t, err)
		assert.Equal(t, 0, res.RemovedCount(), "seed %d", seed)
		assert.Equal(t, size, f.ds.ForestSize())
	}
}
