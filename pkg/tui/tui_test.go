package tui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/pkg/growth"
	"github.com/logflow/seqmine/pkg/pipeline"
	"github.com/logflow/seqmine/pkg/relation"
	"github.com/logflow/seqmine/pkg/segment"
)

func report(t *testing.T) *pipeline.Report {
	t.Helper()
	set, err := relation.NewTemplateSet(relation.Template{Relation: relation.Before})
	require.NoError(t, err)
	r, err := pipeline.NewRunner(pipeline.Options{
		Segment: segment.Options{Templates: []segment.Template{
			{Label: "low", Min: 0, Max: 10},
			{Label: "high", Min: 11, Max: 100},
		}},
		Growth:      growth.Options{Templates: set},
		Generations: 1,
		Policy:      pipeline.ErrorPolicySkip,
	}, nil, nil)
	require.NoError(t, err)

	s := model.Series{Key: "cpu"}
	for i, v := range []float64{1, 50, 2, 60} {
		s.Samples = append(s.Samples, model.Sample{Timestamp: int64(i), Value: v})
	}
	rep, err := r.RunAll(context.Background(), []model.Series{s})
	require.NoError(t, err)
	rep.Failures = append(rep.Failures, pipeline.Failure{Series: "mem", Err: errors.New("bad row")})
	return rep
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, report(t))
	out := buf.String()
	assert.Contains(t, out, "1 FAILED SERIES")
	assert.Contains(t, out, "cpu")
	assert.Contains(t, out, "Events:")
	assert.Contains(t, out, "mem")
	assert.Contains(t, out, "bad row")
}

func TestPrintVariants(t *testing.T) {
	rep := report(t)
	var buf bytes.Buffer
	PrintVariants(&buf, rep.Results[0].Graph, 2)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	assert.LessOrEqual(t, len(lines), 2)
	assert.Regexp(t, `(low|high)`, lines[0])
}

func TestGrowthProgress(t *testing.T) {
	bar, observe := GrowthProgress(io.Discard, 2, 3)
	for i := 0; i < 4; i++ {
		observe("s", i, growth.Stats{})
	}
	assert.Equal(t, int64(4), bar.State().CurrentNum)
	assert.Equal(t, int64(6), bar.GetMax64())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1.5K", formatNumber(1500))
	assert.Equal(t, "2.0M", formatNumber(2_000_000))
	assert.Equal(t, 0.0, rate(10, 0))
}
