package temporal

import (
	"github.com/logflow/seqmine/pkg/calendar"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Store is a table of elements keyed by a stable id. Ids are assigned in
// insertion order starting at 1.
type Store struct {
	nextID   int64
	elements map[int64]Element
	order    []int64
}

// NewStore creates an empty element store.
func NewStore() *Store {
	return &Store{
		nextID:   1,
		elements: make(map[int64]Element),
	}
}

func (s *Store) put(e Element) Element {
	e.ID = s.nextID
	s.nextID++
	s.elements[e.ID] = e
	s.order = append(s.order, e.ID)
	return e
}

// Len returns the number of stored elements.
func (s *Store) Len() int {
	return len(s.order)
}

// Get returns the element with the given id.
func (s *Store) Get(id int64) (Element, bool) {
	e, ok := s.elements[id]
	return e, ok
}

// MustGet returns the element with the given id and panics if it is missing.
func (s *Store) MustGet(id int64) Element {
	e, ok := s.elements[id]
	if !ok {
		panic(seqerr.New(seqerr.CodeStructuralInvariantViolation, "element not in store").WithContext("element", id))
	}
	return e
}

// Elements returns all elements in insertion order.
func (s *Store) Elements() []Element {
	out := make([]Element, len(s.order))
	for i, id := range s.order {
		out[i] = s.elements[id]
	}
	return out
}

// AddInstant stores an instant at chronon.
func (s *Store) AddInstant(chronon int64, g calendar.Granularity) Element {
	return s.put(Element{Kind: KindInstant, Inf: chronon, Sup: chronon, Granularity: g})
}

// AddInterval stores an interval derived from two stored instants.
func (s *Store) AddInterval(beginID, endID int64) (Element, error) {
	begin, ok := s.elements[beginID]
	if !ok || begin.Kind != KindInstant {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "interval begin must be a stored instant").
			WithContext("element", beginID)
	}
	end, ok := s.elements[endID]
	if !ok || end.Kind != KindInstant {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "interval end must be a stored instant").
			WithContext("element", endID)
	}
	if begin.Inf > end.Sup {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "interval ends before it begins").
			WithContext("begin", begin.Inf).
			WithContext("end", end.Sup)
	}
	return s.put(Element{
		Kind:        KindInterval,
		Inf:         begin.Inf,
		Sup:         end.Sup,
		Granularity: begin.Granularity,
		Anchors:     [2]int64{beginID, endID},
	}), nil
}

// AddIntervalBounds stores the two anchor instants and the interval over them.
func (s *Store) AddIntervalBounds(inf, sup int64, g calendar.Granularity) (Element, error) {
	if inf > sup {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "interval ends before it begins").
			WithContext("begin", inf).
			WithContext("end", sup)
	}
	begin := s.AddInstant(inf, g)
	end := s.AddInstant(sup, g)
	return s.AddInterval(begin.ID, end.ID)
}

// AddSpan stores an unanchored length.
func (s *Store) AddSpan(length int64, g calendar.Granularity) (Element, error) {
	if length < 0 {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "span length is negative").
			WithContext("length", length)
	}
	return s.put(Element{Kind: KindSpan, Inf: 0, Sup: length, Granularity: g}), nil
}

// AddSet stores a set over previously stored elements. Its bounds are the
// min/max bounds of the parts. Spans cannot be members of a set.
func (s *Store) AddSet(partIDs ...int64) (Element, error) {
	if len(partIDs) == 0 {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "set needs at least one part")
	}
	parts := make([]Element, 0, len(partIDs))
	for _, id := range partIDs {
		p, ok := s.elements[id]
		if !ok {
			return Element{}, seqerr.New(seqerr.CodeMalformedInput, "set part not in store").
				WithContext("element", id)
		}
		if p.Kind == KindSpan {
			return Element{}, seqerr.New(seqerr.CodeMalformedInput, "set part must be anchored").
				WithContext("element", id)
		}
		parts = append(parts, p.clone())
	}
	inf, sup := partBounds(parts)
	return s.put(Element{
		Kind:        KindSet,
		Inf:         inf,
		Sup:         sup,
		Granularity: parts[0].Granularity,
		Parts:       parts,
	}), nil
}

// Import copies an element from another store, along with its anchors, and
// returns the copy. Ids are reassigned.
func (s *Store) Import(from *Store, id int64) (Element, error) {
	e, ok := from.Get(id)
	if !ok {
		return Element{}, seqerr.New(seqerr.CodeMalformedInput, "element not in source store").
			WithContext("element", id)
	}
	switch e.Kind {
	case KindInterval:
		return s.AddIntervalBounds(e.Inf, e.Sup, e.Granularity)
	default:
		return s.put(e.clone()), nil
	}
}

func (s *Store) clone() *Store {
	out := &Store{
		nextID:   s.nextID,
		elements: make(map[int64]Element, len(s.elements)),
		order:    append([]int64(nil), s.order...),
	}
	for id, e := range s.elements {
		out.elements[id] = e.clone()
	}
	return out
}
