// Package temporal holds time primitives and the datasets built from them.
//
// An Element is a tagged variant over four kinds: Instant, Interval, Span
// and Set. Elements live in a Store keyed by a stable id. A Dataset pairs
// elements with data tuples (Objects) and tracks a forest among them, with
// nodes addressed by integer id so that stages can prune in place without
// dangling references.
package temporal

import (
	"fmt"

	"github.com/logflow/seqmine/pkg/calendar"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Kind discriminates the Element variant.
type Kind uint8

const (
	KindInstant Kind = iota
	KindInterval
	KindSpan
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindInstant:
		return "instant"
	case KindInterval:
		return "interval"
	case KindSpan:
		return "span"
	case KindSet:
		return "set"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Anchored reports whether elements of this kind sit at a fixed position on
// the time axis. Spans only carry a length.
func (k Kind) Anchored() bool {
	return k != KindSpan
}

// Element is one time primitive with chronon bounds [Inf, Sup].
//
// Instants have Inf == Sup. Intervals record the ids of their begin and end
// instants in Anchors. Spans are unanchored: Inf is 0 and Sup is the length.
// Sets hold their parts by value and span their min/max bounds.
type Element struct {
	ID          int64
	Kind        Kind
	Inf         int64
	Sup         int64
	Granularity calendar.Granularity
	Anchors     [2]int64
	Parts       []Element
}

// Length returns Sup - Inf.
func (e Element) Length() int64 {
	return e.Sup - e.Inf
}

// Validate checks the per-kind invariants.
func (e Element) Validate() error {
	bad := func(msg string) error {
		return seqerr.New(seqerr.CodeMalformedInput, msg).
			WithContext("element", e.ID).
			WithContext("kind", e.Kind.String())
	}

	switch e.Kind {
	case KindInstant:
		if e.Inf != e.Sup {
			return bad("instant bounds differ")
		}
	case KindInterval:
		if e.Inf > e.Sup {
			return bad("interval ends before it begins")
		}
	case KindSpan:
		if e.Inf != 0 || e.Sup < 0 {
			return bad("span must have zero origin and non-negative length")
		}
	case KindSet:
		if len(e.Parts) == 0 {
			return bad("set has no parts")
		}
		inf, sup := partBounds(e.Parts)
		if inf != e.Inf || sup != e.Sup {
			return bad("set bounds do not match its parts")
		}
		for _, p := range e.Parts {
			if err := p.Validate(); err != nil {
				return err
			}
		}
	default:
		return bad("unknown element kind")
	}
	return nil
}

func partBounds(parts []Element) (inf, sup int64) {
	inf, sup = parts[0].Inf, parts[0].Sup
	for _, p := range parts[1:] {
		inf = min(inf, p.Inf)
		sup = max(sup, p.Sup)
	}
	return inf, sup
}

// Shift returns a copy of e moved by offset chronons. Spans are unanchored
// and come back unchanged. The receiver is never modified.
func Shift(e Element, offset int64) Element {
	if e.Kind == KindSpan || offset == 0 {
		return e.clone()
	}
	out := e
	out.Inf += offset
	out.Sup += offset
	if len(e.Parts) > 0 {
		out.Parts = make([]Element, len(e.Parts))
		for i, p := range e.Parts {
			out.Parts[i] = Shift(p, offset)
		}
	}
	return out
}

func (e Element) clone() Element {
	out := e
	if len(e.Parts) > 0 {
		out.Parts = make([]Element, len(e.Parts))
		for i, p := range e.Parts {
			out.Parts[i] = p.clone()
		}
	}
	return out
}

// String renders the element for logs.
func (e Element) String() string {
	switch e.Kind {
	case KindInstant:
		return fmt.Sprintf("instant#%d[%d]", e.ID, e.Inf)
	case KindSpan:
		return fmt.Sprintf("span#%d(%d)", e.ID, e.Sup)
	default:
		return fmt.Sprintf("%s#%d[%d,%d]", e.Kind, e.ID, e.Inf, e.Sup)
	}
}
