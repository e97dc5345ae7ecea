// Package interval provides a read-only overlap index over (start, end) rows.
//
// The index sorts rows by start and lays them out as an implicit balanced
// binary search tree: the middle of every sorted range is the subtree root.
// Each position carries the maximum end over its subtree, so a query can
// skip whole subtrees that end before the query range begins. Queries run in
// O(log n + k).
package interval

import (
	"cmp"
	"iter"
	"slices"
)

// Index is an immutable overlap index. Rebuild it after changing the rows.
type Index struct {
	ids    []int
	starts []int64
	ends   []int64
	maxEnd []int64
}

// Build indexes rows by the closed interval span returns for each of them.
// Rows with equal bounds are ordered by compare, which must be a strict total
// order; a nil compare falls back to the row position. Rows whose span is
// reversed (start > end) are still indexed but never match.
func Build[T any](rows []T, span func(T) (start, end int64), compare func(a, b T) int) *Index {
	n := len(rows)
	idx := &Index{
		ids:    make([]int, n),
		starts: make([]int64, n),
		ends:   make([]int64, n),
		maxEnd: make([]int64, n),
	}
	if n == 0 {
		return idx
	}

	starts := make([]int64, n)
	ends := make([]int64, n)
	order := make([]int, n)
	for i, r := range rows {
		starts[i], ends[i] = span(r)
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(starts[a], starts[b]); c != 0 {
			return c
		}
		if c := cmp.Compare(ends[a], ends[b]); c != 0 {
			return c
		}
		if compare != nil {
			if c := compare(rows[a], rows[b]); c != 0 {
				return c
			}
		}
		return cmp.Compare(a, b)
	})

	for pos, row := range order {
		idx.ids[pos] = row
		idx.starts[pos] = starts[row]
		idx.ends[pos] = ends[row]
	}
	idx.augment(0, n)
	return idx
}

// augment fills maxEnd for the subtree over [lo, hi) and returns its value.
func (x *Index) augment(lo, hi int) int64 {
	mid := lo + (hi-lo)/2
	m := x.ends[mid]
	if lo < mid {
		m = max(m, x.augment(lo, mid))
	}
	if mid+1 < hi {
		m = max(m, x.augment(mid+1, hi))
	}
	x.maxEnd[mid] = m
	return m
}

// Len returns the number of indexed rows.
func (x *Index) Len() int {
	return len(x.ids)
}

// Query yields the ids of all rows with start <= qEnd and end >= qStart,
// in ascending (start, end, compare) order.
func (x *Index) Query(qStart, qEnd int64) iter.Seq[int] {
	return func(yield func(int) bool) {
		if len(x.ids) == 0 || qStart > qEnd {
			return
		}
		x.walk(0, len(x.ids), qStart, qEnd, yield)
	}
}

func (x *Index) walk(lo, hi int, qStart, qEnd int64, yield func(int) bool) bool {
	if lo >= hi {
		return true
	}
	mid := lo + (hi-lo)/2
	if x.maxEnd[mid] < qStart {
		return true
	}
	if !x.walk(lo, mid, qStart, qEnd, yield) {
		return false
	}
	if x.starts[mid] > qEnd {
		// everything to the right starts even later
		return true
	}
	if x.ends[mid] >= qStart && x.starts[mid] <= x.ends[mid] {
		if !yield(x.ids[mid]) {
			return false
		}
	}
	return x.walk(mid+1, hi, qStart, qEnd, yield)
}

// Collect returns the Query result as a slice.
func (x *Index) Collect(qStart, qEnd int64) []int {
	return slices.Collect(x.Query(qStart, qEnd))
}

// Stab returns the rows containing point.
func (x *Index) Stab(point int64) []int {
	return x.Collect(point, point)
}
