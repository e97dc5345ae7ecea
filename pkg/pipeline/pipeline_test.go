package pipeline

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/pkg/checkpoint"
	"github.com/logflow/seqmine/pkg/config"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/export"
	"github.com/logflow/seqmine/pkg/growth"
	"github.com/logflow/seqmine/pkg/relation"
	"github.com/logflow/seqmine/pkg/segment"
	"github.com/logflow/seqmine/pkg/telemetry"
)

// series yields the events low[0,1] high[2,3] low[4,5] high[6,7].
func series(key string) model.Series {
	values := []float64{1, 1, 50, 50, 2, 2, 60, 60}
	s := model.Series{Key: key}
	for i, v := range values {
		s.Samples = append(s.Samples, model.Sample{Timestamp: int64(i), Value: v, Row: i + 1})
	}
	return s
}

func options(t *testing.T) Options {
	t.Helper()
	set, err := relation.NewTemplateSet(relation.Template{Relation: relation.Before})
	require.NoError(t, err)
	return Options{
		Segment: segment.Options{Templates: []segment.Template{
			{Label: "low", Min: 0, Max: 10},
			{Label: "high", Min: 11, Max: 100},
		}},
		Growth:      growth.Options{Templates: set},
		Generations: 1,
		Prune:       true,
		MinSupport:  0.3,
		Fixpoint:    true,
	}
}

func TestRun(t *testing.T) {
	var logs bytes.Buffer
	r, err := NewRunner(options(t), log.New(&logs, "seqmine: ", 0), nil)
	require.NoError(t, err)

	var gens []int
	r.OnGeneration = func(series string, gen int, s growth.Stats) {
		assert.Equal(t, "cpu", series)
		gens = append(gens, gen)
	}

	res, err := r.Run(context.Background(), series("cpu"))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, gens)
	assert.Equal(t, 8, res.Samples)
	assert.Equal(t, 4, res.Events)
	require.Len(t, res.Generations, 1)
	assert.Equal(t, 3, res.Generations[0].Attached)

	// low <-p0- high is supported by one of four leaves; its leaf goes
	// together with the root left childless
	assert.Equal(t, 2, res.Removed())
	assert.Len(t, res.Prune, 2, "second pass confirms the fixpoint")
	assert.Equal(t, 5, res.Forest.ForestSize())
	require.NoError(t, res.Forest.Validate())
	assert.Equal(t, 3, res.Graph.Total())

	assert.Contains(t, logs.String(), `series "cpu": 8 samples -> 4 events`)
	assert.Contains(t, res.String(), "cpu: samples=8 events=4")
}

func TestRun_WithoutPruning(t *testing.T) {
	opts := options(t)
	opts.Prune = false
	r, err := NewRunner(opts, nil, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), series("cpu"))
	require.NoError(t, err)
	assert.Empty(t, res.Prune)
	assert.Equal(t, 7, res.Forest.ForestSize())
}

func TestRun_SinglePass(t *testing.T) {
	opts := options(t)
	opts.Fixpoint = false
	r, err := NewRunner(opts, nil, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), series("cpu"))
	require.NoError(t, err)
	require.Len(t, res.Prune, 1)
	assert.Equal(t, 2, res.Removed())
	assert.Equal(t, 5, res.Forest.ForestSize())
}

func TestRun_Checkpoints(t *testing.T) {
	ctx := context.Background()
	b, err := checkpoint.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	opts := options(t)
	opts.Recorder = checkpoint.NewRecorder(b, "run")

	r, err := NewRunner(opts, nil, nil)
	require.NoError(t, err)
	_, err = r.Run(ctx, series("cpu"))
	require.NoError(t, err)

	all, err := b.List(ctx, "run.")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, checkpoint.PhaseSegmented, all[0].Phase)
	assert.Equal(t, 4, all[0].Nodes)
	assert.Equal(t, checkpoint.PhaseGrowing, all[1].Phase)
	assert.Equal(t, 7, all[1].Nodes)

	last, err := checkpoint.Latest(ctx, b, "run", "cpu")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.PhaseComplete, last.Phase)
	ds, err := last.Dataset()
	require.NoError(t, err)
	assert.Equal(t, 5, ds.ForestSize())
}

func TestRun_Export(t *testing.T) {
	dir := t.TempDir()
	opts := options(t)
	opts.ExportDir = dir
	opts.Compression = export.CompressionZstd

	r, err := NewRunner(opts, nil, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), series("host/1 cpu"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "host_1_cpu.types.parquet"), res.TypesPath)
	info, err := os.Stat(res.TypesPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Nil(t, res.StarSchema)
}

func TestRun_Errors(t *testing.T) {
	r, err := NewRunner(options(t), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, series("cpu"))
	assert.Equal(t, seqerr.CodeContextCanceled, seqerr.GetCode(err))

	bad := series("cpu")
	bad.Samples[3].Timestamp = 1
	_, err = r.Run(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, seqerr.CodeMalformedInput, seqerr.GetCode(err))
}

func TestRun_Traced(t *testing.T) {
	tp := telemetry.Noop()
	r, err := NewRunner(options(t), nil, tp.Tracer())
	require.NoError(t, err)
	_, err = r.Run(context.Background(), series("cpu"))
	require.NoError(t, err)
}

func TestNewRunner_Validation(t *testing.T) {
	opts := options(t)
	opts.Growth.Templates = nil
	_, err := NewRunner(opts, nil, nil)
	assert.Equal(t, seqerr.CodeMalformedInput, seqerr.GetCode(err))

	opts = options(t)
	opts.MinSupport = 2
	_, err = NewRunner(opts, nil, nil)
	assert.Equal(t, seqerr.CodeMalformedInput, seqerr.GetCode(err))

	opts = options(t)
	opts.Segment.Templates = append(opts.Segment.Templates, segment.Template{Label: "mid", Min: 5, Max: 20})
	_, err = NewRunner(opts, nil, nil)
	assert.Equal(t, seqerr.CodeMalformedInput, seqerr.GetCode(err))
}

func TestRunAll(t *testing.T) {
	bad := series("broken")
	bad.Samples[5].Timestamp = 0

	t.Run("skip", func(t *testing.T) {
		opts := options(t)
		opts.Policy = ErrorPolicySkip
		opts.Workers = 2
		r, err := NewRunner(opts, nil, nil)
		require.NoError(t, err)

		rep, err := r.RunAll(context.Background(), []model.Series{series("a"), bad, series("b")})
		require.NoError(t, err)
		require.Len(t, rep.Results, 2)
		assert.Equal(t, "a", rep.Results[0].Series)
		assert.Equal(t, "b", rep.Results[1].Series)
		require.Len(t, rep.Failures, 1)
		assert.Equal(t, "broken", rep.Failures[0].Series)
		assert.Equal(t, 16, rep.Samples())
		assert.Contains(t, rep.Summary(), "Mined 2 series (16 samples, 1 failed)")
	})

	t.Run("strict", func(t *testing.T) {
		r, err := NewRunner(options(t), nil, nil)
		require.NoError(t, err)
		_, err = r.RunAll(context.Background(), []model.Series{series("a"), bad})
		assert.Equal(t, seqerr.CodeMalformedInput, seqerr.GetCode(err))
	})
}

func TestParseErrorPolicy(t *testing.T) {
	p, err := ParseErrorPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, ErrorPolicySkip, p)
	assert.Equal(t, "strict", ErrorPolicyStrict.String())
	_, err = ParseErrorPolicy("quarantine")
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	c, err := config.Parse([]byte(`
segmentation:
  templates:
    - {label: low, min: 0, max: 10}
    - {label: high, min: 11, max: 100}
calendar:
  granularity: second
  context: minute
growth:
  iterations: 1
  templates:
    - {relation: before}
  tie_break: earliest
pruning:
  min_support: 0.3
export:
  compression: gzip
`))
	require.NoError(t, err)
	opts, err := FromConfig(c)
	require.NoError(t, err)
	assert.Equal(t, growth.Earliest, opts.Growth.TieBreak)
	assert.Equal(t, export.CompressionGzip, opts.Compression)
	assert.Equal(t, "second", opts.Segment.Granularity.GranularityID.String())

	r, err := NewRunner(opts, nil, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), series("cpu"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Events)

	c.Calendar.Granularity = "fortnight"
	_, err = FromConfig(c)
	assert.Equal(t, seqerr.CodeMalformedInput, seqerr.GetCode(err))
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	b, closeFn, err := OpenBackend(ctx, config.CheckpointConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, closeFn())

	b, _, err = OpenBackend(ctx, config.CheckpointConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	_, _, err = OpenBackend(ctx, config.CheckpointConfig{Backend: "zip"})
	assert.Error(t, err)
}
