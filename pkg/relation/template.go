package relation

import (
	"fmt"
	"strings"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

// ShiftTarget selects which side of a template evaluation is shifted.
type ShiftTarget uint8

const (
	// ShiftCandidate moves the earlier event before comparing it.
	ShiftCandidate ShiftTarget = iota
	// ShiftAnchor moves the frontier node instead.
	ShiftAnchor
)

func (s ShiftTarget) String() string {
	if s == ShiftAnchor {
		return "anchor"
	}
	return "candidate"
}

// ParseShiftTarget accepts "candidate" (or "") and "anchor".
func ParseShiftTarget(s string) (ShiftTarget, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "candidate":
		return ShiftCandidate, nil
	case "anchor":
		return ShiftAnchor, nil
	}
	return 0, seqerr.Newf(seqerr.CodeMalformedInput, "unknown shift target %q", s)
}

// Template is one growth predicate: a relation, optionally evaluated after
// shifting one side by a fixed number of chronons.
type Template struct {
	Relation Relation
	Shift    int64
	Target   ShiftTarget
}

func (t Template) String() string {
	if t.Shift == 0 {
		return t.Relation.String()
	}
	return fmt.Sprintf("%s(%s%+d)", t.Relation, t.Target, t.Shift)
}

// Match evaluates the template with candidate on the left and anchor on the
// right.
func (t Template) Match(candidate, anchor temporal.Element) (bool, error) {
	left, right := One(candidate), One(anchor)
	if t.Shift != 0 {
		if t.Target == ShiftAnchor {
			right = Shift(right, t.Shift)
		} else {
			left = Shift(left, t.Shift)
		}
	}
	return Evaluate(t.Relation, left, right)
}

// TemplateSet is an ordered list of templates. The index of a template is
// the predicate class it assigns. Once frozen the set is read-only.
type TemplateSet struct {
	templates []Template
	frozen    bool
}

// NewTemplateSet builds a set from ts. The set is still mutable.
func NewTemplateSet(ts ...Template) (*TemplateSet, error) {
	s := &TemplateSet{}
	for _, t := range ts {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a template. Its predicate class is its position in the set.
func (s *TemplateSet) Add(t Template) error {
	if s.frozen {
		return seqerr.ReadOnly("template set").WithContext("template", t.String())
	}
	if !t.Relation.Valid() {
		return seqerr.InvalidRelation(t.Relation.String(), "unknown relation")
	}
	s.templates = append(s.templates, t)
	return nil
}

// Freeze makes the set read-only. Freezing a frozen set does not write, so
// engines sharing one set may call it concurrently.
func (s *TemplateSet) Freeze() {
	if !s.frozen {
		s.frozen = true
	}
}

// Frozen reports whether Freeze was called.
func (s *TemplateSet) Frozen() bool {
	return s.frozen
}

// Len returns the number of templates.
func (s *TemplateSet) Len() int {
	return len(s.templates)
}

// Templates returns a copy of the templates in order.
func (s *TemplateSet) Templates() []Template {
	return append([]Template(nil), s.templates...)
}

// Classify returns the index of the first template matching (candidate,
// anchor), or -1.
func (s *TemplateSet) Classify(candidate, anchor temporal.Element) (int, error) {
	for i, t := range s.templates {
		ok, err := t.Match(candidate, anchor)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}
