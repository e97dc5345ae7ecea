// Package pipeline drives batch mining of sample series: segmentation, a
// fixed number of growth generations, counting, support pruning and the
// optional columnar export.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/pkg/checkpoint"
	"github.com/logflow/seqmine/pkg/count"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/export"
	"github.com/logflow/seqmine/pkg/growth"
	"github.com/logflow/seqmine/pkg/prune"
	"github.com/logflow/seqmine/pkg/segment"
	"github.com/logflow/seqmine/pkg/telemetry"
	"github.com/logflow/seqmine/pkg/temporal"
)

// Options configure a Runner.
type Options struct {
	Segment segment.Options
	Growth  growth.Options

	// Generations is the number of growth iterations.
	Generations int

	// Prune enables support pruning with MinSupport as the ratio of forest
	// leaves a pattern path must reach.
	Prune      bool
	MinSupport float64

	// Fixpoint repeats count and prune until nothing is removed. Without it
	// a single pass runs and the graph is recounted afterwards.
	Fixpoint bool

	// Recorder, when set, receives a snapshot after segmentation, after
	// every generation and after pruning.
	Recorder *checkpoint.Recorder

	// ExportDir, when set, receives one pattern-type Parquet table per
	// series and optionally its star schema.
	ExportDir   string
	Compression export.Compression
	StarSchema  bool

	// Workers bounds how many series RunAll mines at once. Zero means no limit.
	Workers int

	// Policy decides whether RunAll stops at the first failing series.
	Policy ErrorPolicy
}

// Result is the outcome for one series.
type Result struct {
	Series      string
	Samples     int
	Events      int
	Generations []growth.Stats
	Forest      *temporal.Dataset
	Graph       *count.Graph
	Prune       []*prune.Result
	TypesPath   string
	StarSchema  *export.StarSchemaResult
	Duration    time.Duration
}

// Removed returns the number of forest nodes pruning removed.
func (r *Result) Removed() int {
	n := 0
	for _, p := range r.Prune {
		n += p.RemovedCount()
	}
	return n
}

// GenerationFunc observes growth progress.
type GenerationFunc func(series string, gen int, s growth.Stats)

// Runner mines series with fixed options. It is safe for concurrent use.
type Runner struct {
	opts   Options
	seg    *segment.Segmenter
	logger *log.Logger
	tracer trace.Tracer

	// OnGeneration, when set, is called after every growth generation.
	OnGeneration GenerationFunc
}

// NewRunner validates opts. A nil logger discards output and a nil tracer
// records nothing.
func NewRunner(opts Options, logger *log.Logger, tracer trace.Tracer) (*Runner, error) {
	seg, err := segment.New(opts.Segment)
	if err != nil {
		return nil, err
	}
	if opts.Growth.Templates == nil || opts.Growth.Templates.Len() == 0 {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "at least one growth template is required")
	}
	if opts.Generations < 0 {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "generations must not be negative").
			WithContext("generations", opts.Generations)
	}
	if opts.Prune {
		if _, err := prune.Required(0, opts.MinSupport); err != nil {
			return nil, err
		}
	}
	// engines of concurrent series share the set read-only
	opts.Growth.Templates.Freeze()

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(telemetry.InstrumentationName)
	}
	return &Runner{opts: opts, seg: seg, logger: logger, tracer: tracer}, nil
}

// Options returns the runner options.
func (r *Runner) Options() Options {
	return r.opts
}

func canceled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return seqerr.ContextCanceled(stage, err)
	}
	return nil
}

// Run mines one series. The context is checked between stages and inside
// growth; a canceled run returns ContextCanceled and no partial result.
func (r *Runner) Run(ctx context.Context, series model.Series) (res *Result, err error) {
	start := time.Now()
	ctx, span := telemetry.StartStage(ctx, r.tracer, "run",
		attribute.String("series", series.Key),
		attribute.Int("samples", series.Len()))
	defer func() { span.End(err) }()

	res = &Result{Series: series.Key, Samples: series.Len()}

	// segmentation
	if err := canceled(ctx, "segment"); err != nil {
		return nil, err
	}
	events, err := r.segment(ctx, series)
	if err != nil {
		return nil, err
	}
	res.Events = events.Len()

	// growth
	if err := canceled(ctx, "grow"); err != nil {
		return nil, err
	}
	forest, gens, err := r.grow(ctx, series.Key, events)
	if err != nil {
		return nil, err
	}
	res.Forest, res.Generations = forest, gens

	// counting and pruning
	if err := canceled(ctx, "count"); err != nil {
		return nil, err
	}
	g, passes, err := r.countAndPrune(ctx, forest)
	if err != nil {
		return nil, err
	}
	res.Graph, res.Prune = g, passes
	if err := r.record(ctx, series.Key, r.opts.Generations+1, checkpoint.PhaseComplete, forest); err != nil {
		return nil, err
	}

	// export
	if r.opts.ExportDir != "" {
		if err := canceled(ctx, "export"); err != nil {
			return nil, err
		}
		if err := r.export(ctx, res); err != nil {
			return nil, err
		}
	}

	res.Duration = time.Since(start)
	span.Set("types", len(g.Nodes))
	span.Set("forest_nodes", forest.ForestSize())
	r.logger.Printf("series %q: %d events, %d forest nodes, %d pattern types, %d removed in %s",
		series.Key, res.Events, forest.ForestSize(), len(g.Nodes), res.Removed(), res.Duration.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) segment(ctx context.Context, series model.Series) (ds *temporal.Dataset, err error) {
	_, span := telemetry.StartStage(ctx, r.tracer, "segment")
	defer func() { span.End(err) }()

	ds, err = r.seg.SegmentSeries(series)
	if err != nil {
		return nil, err
	}
	span.Set("events", ds.Len())
	r.logger.Printf("series %q: %d samples -> %d events", series.Key, series.Len(), ds.Len())
	return ds, nil
}

func (r *Runner) grow(ctx context.Context, key string, events *temporal.Dataset) (forest *temporal.Dataset, gens []growth.Stats, err error) {
	ctx, span := telemetry.StartStage(ctx, r.tracer, "grow", attribute.Int("generations", r.opts.Generations))
	defer func() { span.End(err) }()

	engine, err := growth.New(events, r.opts.Growth)
	if err != nil {
		return nil, nil, err
	}
	forest, frontier, err := engine.InitialForest(key)
	if err != nil {
		return nil, nil, err
	}
	if err := r.record(ctx, key, 0, checkpoint.PhaseSegmented, forest); err != nil {
		return nil, nil, err
	}

	_, err = engine.Run(ctx, forest, frontier, r.opts.Generations, func(gen int, s growth.Stats) error {
		gens = append(gens, s)
		span.Event("generation",
			attribute.Int("generation", gen),
			attribute.Int("frontier", s.Frontier),
			attribute.Int("candidates", s.Candidates),
			attribute.Int("attached", s.Attached))
		r.logger.Printf("series %q: generation %d attached %d nodes (frontier %d, candidates %d)",
			key, gen, s.Attached, s.Frontier, s.Candidates)
		if r.OnGeneration != nil {
			r.OnGeneration(key, gen, s)
		}
		return r.record(ctx, key, gen, checkpoint.PhaseGrowing, forest)
	})
	if err != nil {
		return nil, nil, err
	}
	span.Set("forest_nodes", forest.ForestSize())
	return forest, gens, nil
}

func (r *Runner) countAndPrune(ctx context.Context, forest *temporal.Dataset) (g *count.Graph, passes []*prune.Result, err error) {
	_, span := telemetry.StartStage(ctx, r.tracer, "count")
	defer func() { span.End(err) }()

	switch {
	case !r.opts.Prune:
		g, err = count.Count(forest)
	case r.opts.Fixpoint:
		g, passes, err = prune.Fixpoint(forest, r.opts.MinSupport)
	default:
		g, err = count.Count(forest)
		if err != nil {
			return nil, nil, err
		}
		var res *prune.Result
		res, err = prune.Prune(forest, g, r.opts.MinSupport)
		if err != nil {
			return nil, nil, err
		}
		passes = []*prune.Result{res}
		g, err = count.Count(forest)
	}
	if err != nil {
		return nil, nil, err
	}
	for i, p := range passes {
		r.logger.Printf("%s: prune pass %d: %s", forest.Name, i+1, p)
	}
	span.Set("types", len(g.Nodes))
	span.Set("passes", len(passes))
	return g, passes, nil
}

func (r *Runner) record(ctx context.Context, key string, gen int, phase string, forest *temporal.Dataset) error {
	if r.opts.Recorder == nil {
		return nil
	}
	snap, err := r.opts.Recorder.Record(ctx, key, gen, phase, forest)
	if err != nil {
		return err
	}
	r.logger.Printf("series %q: snapshot %s (%d nodes)", key, snap.ID, snap.Nodes)
	return nil
}

func (r *Runner) export(ctx context.Context, res *Result) (err error) {
	ctx, span := telemetry.StartStage(ctx, r.tracer, "export")
	defer func() { span.End(err) }()

	name := fileName(res.Series)
	res.TypesPath = filepath.Join(r.opts.ExportDir, name+".types.parquet")
	n, err := export.WriteTypesFile(res.TypesPath, res.Graph, r.opts.Compression)
	if err != nil {
		return err
	}
	span.Set("rows", n)
	r.logger.Printf("series %q: wrote %d pattern types to %s", res.Series, n, res.TypesPath)

	if !r.opts.StarSchema {
		return nil
	}
	exp, err := export.NewStarSchemaExporter(filepath.Join(r.opts.ExportDir, name), r.opts.Compression)
	if err != nil {
		return err
	}
	defer exp.Close()
	res.StarSchema, err = exp.Export(ctx, res.TypesPath)
	return err
}

// fileName maps a series key onto a safe file name.
func fileName(key string) string {
	if key == "" {
		return "series"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: samples=%d events=%d generations=%d types=%d removed=%d",
		r.Series, r.Samples, r.Events, len(r.Generations), len(r.Graph.Nodes), r.Removed())
}
