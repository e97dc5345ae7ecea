package relation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

func iv(inf, sup int64) temporal.Element {
	return temporal.Element{Kind: temporal.KindInterval, Inf: inf, Sup: sup}
}

func span(n int64) temporal.Element {
	return temporal.Element{Kind: temporal.KindSpan, Sup: n}
}

func TestRelations(t *testing.T) {
	tests := []struct {
		rel  Relation
		a, b temporal.Element
		want bool
	}{
		{Before, iv(0, 4), iv(5, 9), true},
		{Before, iv(0, 5), iv(5, 9), false},
		{After, iv(10, 12), iv(5, 9), true},
		{Meets, iv(0, 5), iv(5, 9), true},
		{Meets, iv(0, 4), iv(5, 9), false},
		{Starts, iv(5, 7), iv(5, 9), true},
		{Starts, iv(5, 10), iv(5, 9), false},
		{Finishes, iv(7, 9), iv(5, 9), true},
		{Finishes, iv(4, 9), iv(5, 9), false},
		{During, iv(6, 8), iv(5, 9), true},
		{During, iv(5, 9), iv(5, 9), true},
		{During, iv(4, 8), iv(5, 9), false},
		{Overlaps, iv(3, 6), iv(5, 9), true},
		{Overlaps, iv(0, 5), iv(5, 9), false},
		{Outside, iv(0, 4), iv(5, 9), true},
		{Outside, iv(0, 5), iv(5, 9), true},
		{Outside, iv(3, 6), iv(5, 9), false},
		{Outside, iv(6, 7), iv(5, 9), false},
		{AsLongAs, iv(0, 4), iv(10, 14), true},
		{AsLongAs, iv(0, 4), iv(10, 15), false},
		{AsLongAs, span(4), iv(10, 14), true},
	}
	for _, tt := range tests {
		t.Run(tt.rel.String(), func(t *testing.T) {
			got, err := Holds(tt.rel, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "%s %v %v", tt.rel, tt.a, tt.b)
		})
	}
}

func TestEvaluate_Arrays(t *testing.T) {
	preds := Many(iv(20, 30), iv(0, 4))
	ok, err := Evaluate(Before, One(iv(5, 9)), preds)
	require.NoError(t, err)
	assert.True(t, ok, "holds against one element of the array")

	ok, err = Evaluate(After, One(iv(5, 9)), Many(iv(20, 30), iv(40, 50)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_Misuse(t *testing.T) {
	tests := []struct {
		name        string
		rel         Relation
		left, right Operand
	}{
		{"span with anchored relation", Before, One(span(3)), One(iv(0, 1))},
		{"empty array", Before, Many(), One(iv(0, 1))},
		{"mixed array", During, One(iv(0, 1)), Many(iv(0, 1), span(2))},
		{"unknown relation", Relation(99), One(iv(0, 1)), One(iv(0, 1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.rel, tt.left, tt.right)
			assert.True(t, seqerr.IsCode(err, seqerr.CodeInvalidRelationUsage), "got %v", err)
			assert.True(t, seqerr.IsFatal(err))
		})
	}
}

func TestSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 5000; i++ {
		ai := rng.Int63n(100)
		a := iv(ai, ai+rng.Int63n(20))
		bi := rng.Int63n(100)
		b := iv(bi, bi+rng.Int63n(20))

		before, _ := Holds(Before, a, b)
		after, _ := Holds(After, b, a)
		require.Equal(t, before, after, "%v %v", a, b)

		if meets, _ := Holds(Meets, a, b); meets {
			require.Equal(t, a.Sup, b.Inf)
		}
		for _, r := range All() {
			c, ok := r.Converse()
			if !ok {
				continue
			}
			x, _ := Holds(r, a, b)
			y, _ := Holds(c, b, a)
			require.Equal(t, x, y, "%s/%s %v %v", r, c, a, b)
		}
	}
}

func TestShift_IsPure(t *testing.T) {
	e := iv(10, 20)
	op := One(e)
	moved := Shift(op, 5)
	assert.Equal(t, int64(15), moved.Elements[0].Inf)
	assert.Equal(t, int64(10), op.Elements[0].Inf)
	assert.Equal(t, int64(10), e.Inf)
}

func TestParse(t *testing.T) {
	for _, r := range All() {
		got, err := Parse(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	r, err := Parse("As_Long_As")
	require.NoError(t, err)
	assert.Equal(t, AsLongAs, r)

	_, err = Parse("contains")
	assert.True(t, seqerr.IsCode(err, seqerr.CodeInvalidRelationUsage))
}

func TestTemplateSet(t *testing.T) {
	set, err := NewTemplateSet(
		Template{Relation: Meets},
		Template{Relation: Meets, Shift: 1, Target: ShiftCandidate},
		Template{Relation: Before},
	)
	require.NoError(t, err)

	anchor := iv(10, 20)
	cls, err := set.Classify(iv(2, 10), anchor)
	require.NoError(t, err)
	assert.Equal(t, 0, cls)

	// one chronon gap is bridged by the shifted template
	cls, err = set.Classify(iv(2, 9), anchor)
	require.NoError(t, err)
	assert.Equal(t, 1, cls)

	cls, err = set.Classify(iv(0, 3), anchor)
	require.NoError(t, err)
	assert.Equal(t, 2, cls)

	cls, err = set.Classify(iv(12, 14), anchor)
	require.NoError(t, err)
	assert.Equal(t, -1, cls)

	set.Freeze()
	err = set.Add(Template{Relation: After})
	assert.True(t, seqerr.IsCode(err, seqerr.CodeReadOnlyViolation))
	assert.Equal(t, 3, set.Len())
}

func TestTemplate_ShiftAnchor(t *testing.T) {
	tpl := Template{Relation: Meets, Shift: -1, Target: ShiftAnchor}
	ok, err := tpl.Match(iv(2, 9), iv(10, 20))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "meets(anchor-1)", tpl.String())
}
