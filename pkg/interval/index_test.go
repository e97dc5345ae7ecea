package interval

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	start, end int64
	name       string
}

func span(r row) (int64, int64) { return r.start, r.end }

func byName(a, b row) int {
	switch {
	case a.name < b.name:
		return -1
	case a.name > b.name:
		return 1
	}
	return 0
}

func TestBuild_Empty(t *testing.T) {
	idx := Build[row](nil, span, byName)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Collect(-100, 100))
	assert.Empty(t, idx.Stab(0))
}

func TestQuery_Basic(t *testing.T) {
	rows := []row{
		{10, 20, "c"},
		{0, 5, "a"},
		{5, 10, "b"},
		{30, 40, "d"},
		{10, 20, "b2"},
	}
	idx := Build(rows, span, byName)

	assert.Equal(t, []int{1, 2}, idx.Stab(5))
	// equal bounds are ordered by name: b2 before c
	assert.Equal(t, []int{2, 4, 0}, idx.Collect(10, 10))
	assert.Equal(t, []int{3}, idx.Collect(21, 35))
	assert.Empty(t, idx.Collect(41, 50))
	assert.Empty(t, idx.Collect(25, 24), "reversed query range")
}

func TestQuery_EarlyStop(t *testing.T) {
	rows := []row{{0, 10, "a"}, {1, 10, "b"}, {2, 10, "c"}}
	idx := Build(rows, span, byName)

	var got []int
	for id := range idx.Query(0, 10) {
		got = append(got, id)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, got)
}

func TestQuery_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := rng.Intn(60)
		rows := make([]row, n)
		for i := range rows {
			s := rng.Int63n(1000) - 500
			rows[i] = row{start: s, end: s + rng.Int63n(80)}
		}
		idx := Build(rows, span, nil)
		require.Equal(t, n, idx.Len())

		for q := 0; q < 20; q++ {
			qs := rng.Int63n(1200) - 600
			qe := qs + rng.Int63n(120)

			var want []int
			for i, r := range rows {
				if r.start <= qe && r.end >= qs {
					want = append(want, i)
				}
			}
			got := idx.Collect(qs, qe)
			again := idx.Collect(qs, qe)
			assert.Equal(t, got, again, "query must be deterministic")

			slices.Sort(got)
			assert.Equal(t, want, got, "round %d query [%d,%d]", round, qs, qe)
		}
	}
}
