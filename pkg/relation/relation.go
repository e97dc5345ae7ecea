// Package relation evaluates the fixed set of temporal relations used by
// pattern growth.
package relation

import (
	"fmt"
	"strings"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

// Relation names one binary temporal relation.
type Relation uint8

const (
	Before Relation = iota
	After
	Starts
	Finishes
	During
	Outside
	Overlaps
	AsLongAs
	Meets
)

var names = [...]string{
	Before:   "before",
	After:    "after",
	Starts:   "starts",
	Finishes: "finishes",
	During:   "during",
	Outside:  "outside",
	Overlaps: "overlaps",
	AsLongAs: "as-long-as",
	Meets:    "meets",
}

func (r Relation) String() string {
	if int(r) < len(names) {
		return names[r]
	}
	return fmt.Sprintf("relation(%d)", r)
}

// Valid reports whether r is one of the known relations.
func (r Relation) Valid() bool {
	return int(r) < len(names)
}

// All returns every relation in declaration order.
func All() []Relation {
	out := make([]Relation, len(names))
	for i := range names {
		out[i] = Relation(i)
	}
	return out
}

// Parse resolves a relation name. Case, underscores and spaces are ignored,
// so "as_long_as", "As Long As" and "as-long-as" are equivalent.
func Parse(s string) (Relation, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	for i, n := range names {
		if n == key {
			return Relation(i), nil
		}
	}
	return 0, seqerr.InvalidRelation(s, "unknown relation")
}

// Converse returns the relation c with r(a, b) == c(b, a), when one exists
// in the set.
func (r Relation) Converse() (Relation, bool) {
	switch r {
	case Before:
		return After, true
	case After:
		return Before, true
	case Overlaps, AsLongAs:
		return r, true
	default:
		return 0, false
	}
}

// holds applies r to the bounds of a and b.
func (r Relation) holds(a, b temporal.Element) bool {
	switch r {
	case Before:
		return a.Sup < b.Inf
	case After:
		return a.Inf > b.Sup
	case Meets:
		return a.Sup == b.Inf
	case Starts:
		return a.Inf == b.Inf && a.Sup <= b.Sup
	case Finishes:
		return a.Sup == b.Sup && a.Inf >= b.Inf
	case During:
		return a.Inf >= b.Inf && a.Sup <= b.Sup
	case Overlaps:
		return a.Inf < b.Sup && b.Inf < a.Sup
	case Outside:
		return !Overlaps.holds(a, b) && !During.holds(a, b)
	case AsLongAs:
		return a.Length() == b.Length()
	}
	return false
}

// Operand is one side of an evaluation: a single element or a homogeneous
// array of elements.
type Operand struct {
	Elements []temporal.Element
	Array    bool
}

// One wraps a single element.
func One(e temporal.Element) Operand {
	return Operand{Elements: []temporal.Element{e}}
}

// Many wraps an array of elements.
func Many(es ...temporal.Element) Operand {
	return Operand{Elements: es, Array: true}
}

func (o Operand) check(r Relation, side string) error {
	if len(o.Elements) == 0 {
		return seqerr.InvalidRelation(r.String(), "empty operand").WithContext("side", side)
	}
	kind := o.Elements[0].Kind
	for _, e := range o.Elements[1:] {
		if e.Kind != kind {
			return seqerr.InvalidRelation(r.String(), "operand array mixes element kinds").
				WithContext("side", side).
				WithContext("kinds", kind.String()+"/"+e.Kind.String())
		}
	}
	if !kind.Anchored() && r != AsLongAs {
		return seqerr.InvalidRelation(r.String(), "span has no position on the time axis").
			WithContext("side", side)
	}
	return nil
}

// Evaluate reports whether r holds between left and right. For arrays the
// relation holds when it holds for at least one pair.
//
// Misuse (unknown relation, empty or mixed arrays, a span with any relation
// other than as-long-as) is reported as InvalidRelationUsage.
func Evaluate(r Relation, left, right Operand) (bool, error) {
	if !r.Valid() {
		return false, seqerr.InvalidRelation(r.String(), "unknown relation")
	}
	if err := left.check(r, "left"); err != nil {
		return false, err
	}
	if err := right.check(r, "right"); err != nil {
		return false, err
	}
	for _, a := range left.Elements {
		for _, b := range right.Elements {
			if r.holds(a, b) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Holds is Evaluate over two single elements.
func Holds(r Relation, a, b temporal.Element) (bool, error) {
	return Evaluate(r, One(a), One(b))
}

// Shift returns an operand whose elements are moved by offset chronons.
// The input operand and its elements are left untouched.
func Shift(o Operand, offset int64) Operand {
	out := Operand{Elements: make([]temporal.Element, len(o.Elements)), Array: o.Array}
	for i, e := range o.Elements {
		out.Elements[i] = temporal.Shift(e, offset)
	}
	return out
}
