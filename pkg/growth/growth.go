// Package growth extends a pattern forest backward in time, one generation
// per call, by attaching earlier events that satisfy ordered relation
// templates.
//
// Every forest node is a copy of an event from the candidate dataset, so an
// event can appear many times in the forest while each node keeps a single
// parent. The edge to a node's parent carries the index of the first template
// that matched, its predicate class.
package growth

import (
	"context"
	"fmt"
	"math"
	"strings"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/interval"
	"github.com/logflow/seqmine/pkg/relation"
	"github.com/logflow/seqmine/pkg/temporal"
)

// Tuple field keys written on forest nodes.
const (
	FieldEvent       = "event"
	FieldGrowthLabel = "growth_label"
)

// TieBreak picks one event when several match the same frontier node under
// the same template.
type TieBreak uint8

const (
	// Nearest keeps the candidate ending latest, then the lowest event id.
	Nearest TieBreak = iota
	// Earliest keeps the candidate starting first, then the lowest event id.
	Earliest
)

func (t TieBreak) String() string {
	if t == Earliest {
		return "earliest"
	}
	return "nearest"
}

// ParseTieBreak accepts "nearest" (or "") and "earliest".
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest":
		return Nearest, nil
	case "earliest":
		return Earliest, nil
	}
	return 0, seqerr.Newf(seqerr.CodeMalformedInput, "unknown tie-break policy %q", s)
}

// Options configure an Engine.
type Options struct {
	Templates *relation.TemplateSet
	TieBreak  TieBreak

	// Lookback limits candidates to events ending no more than Lookback
	// chronons before the frontier node starts. Zero means unlimited.
	Lookback int64
}

// Engine grows pattern forests over one candidate event dataset.
type Engine struct {
	events    *temporal.Dataset
	templates *relation.TemplateSet
	tie       TieBreak
	lookback  int64
	index     *interval.Index
	ids       []int
}

// New indexes the candidate events and freezes the template set.
func New(events *temporal.Dataset, opts Options) (*Engine, error) {
	if opts.Templates == nil || opts.Templates.Len() == 0 {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "growth needs at least one template")
	}
	if opts.Lookback < 0 {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "lookback must not be negative").
			WithContext("lookback", opts.Lookback)
	}
	opts.Templates.Freeze()

	ids := events.Objects()
	idx := interval.Build(ids, func(id int) (int64, int64) {
		e := events.Element(id)
		return e.Inf, e.Sup
	}, func(a, b int) int { return a - b })

	return &Engine{
		events:    events,
		templates: opts.Templates,
		tie:       opts.TieBreak,
		lookback:  opts.Lookback,
		index:     idx,
		ids:       ids,
	}, nil
}

// Events returns the candidate dataset.
func (g *Engine) Events() *temporal.Dataset {
	return g.events
}

// InitialForest copies every candidate event into a new dataset as a root.
// The roots form the first frontier.
func (g *Engine) InitialForest(name string) (*temporal.Dataset, []int, error) {
	forest := temporal.NewDataset(name)
	frontier := make([]int, 0, len(g.ids))
	for _, ev := range g.ids {
		id, err := g.copyEvent(forest, ev)
		if err != nil {
			return nil, nil, err
		}
		forest.Object(id).Data.Fields[FieldGrowthLabel] = forest.Object(id).Data.Label
		if err := forest.AddRoot(id); err != nil {
			return nil, nil, err
		}
		frontier = append(frontier, id)
	}
	return forest, frontier, nil
}

func (g *Engine) copyEvent(forest *temporal.Dataset, ev int) (int, error) {
	id, err := forest.Import(g.events, ev)
	if err != nil {
		return 0, err
	}
	obj := forest.Object(id)
	if obj.Data.Fields == nil {
		obj.Data.Fields = make(map[string]any)
	}
	obj.Data.Fields[FieldEvent] = ev
	forest.SetData(id, obj.Data)
	return id, nil
}

// Label encodes a node's position in a pattern: the predicate class of its
// edge and its own label.
func Label(predicateClass int, label string) string {
	return fmt.Sprintf("p%d:%s", predicateClass, label)
}

// SourceEvent returns the candidate event a forest node was copied from.
func SourceEvent(t temporal.Tuple) (int, bool) {
	switch v := t.Fields[FieldEvent].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == math.Trunc(v)
	}
	return 0, false
}

// Stats describes one generation.
type Stats struct {
	Frontier   int
	Candidates int
	Attached   int
}

type pick struct {
	event int
	el    temporal.Element
}

// Grow extends every frontier node by one generation and returns the newly
// attached nodes, which form the next frontier.
//
// For a frontier node F the candidates are the events E with E.inf <= F.inf,
// other than the events already on F's path. Templates are tried in order and
// the first match gives the predicate class. At most one event is attached
// per (F, predicate class), chosen by the tie-break policy.
func (g *Engine) Grow(ctx context.Context, forest *temporal.Dataset, frontier []int) ([]int, Stats, error) {
	stats := Stats{Frontier: len(frontier)}
	var next []int

	for _, f := range frontier {
		if err := ctx.Err(); err != nil {
			return nil, stats, seqerr.ContextCanceled("grow", err)
		}
		if !forest.InForest(f) {
			continue
		}
		anchor := forest.Element(f)

		onPath := make(map[int]bool)
		for _, p := range forest.PathToRoot(f) {
			if ev, ok := SourceEvent(forest.Object(p).Data); ok {
				onPath[ev] = true
			}
		}

		lo := int64(math.MinInt64)
		if g.lookback > 0 {
			lo = anchor.Inf - g.lookback
		}

		best := make(map[int]pick)
		for row := range g.index.Query(lo, anchor.Inf) {
			ev := g.ids[row]
			if onPath[ev] {
				continue
			}
			cand := g.events.Element(ev)
			if cand.Inf > anchor.Inf {
				continue
			}
			stats.Candidates++
			cls, err := g.templates.Classify(cand, anchor)
			if err != nil {
				return nil, stats, err
			}
			if cls < 0 {
				continue
			}
			if cur, ok := best[cls]; !ok || g.better(ev, cand, cur) {
				best[cls] = pick{event: ev, el: cand}
			}
		}

		for cls := 0; cls < g.templates.Len(); cls++ {
			p, ok := best[cls]
			if !ok {
				continue
			}
			child, err := g.copyEvent(forest, p.event)
			if err != nil {
				return nil, stats, err
			}
			obj := forest.Object(child)
			obj.Data.Fields[FieldGrowthLabel] = Label(cls, obj.Data.Label)
			forest.SetData(child, obj.Data)
			if err := forest.Attach(f, child, cls); err != nil {
				return nil, stats, err
			}
			next = append(next, child)
			stats.Attached++
		}
	}
	return next, stats, nil
}

func (g *Engine) better(ev int, el temporal.Element, cur pick) bool {
	switch g.tie {
	case Earliest:
		if el.Inf != cur.el.Inf {
			return el.Inf < cur.el.Inf
		}
	default:
		if el.Sup != cur.el.Sup {
			return el.Sup > cur.el.Sup
		}
	}
	return ev < cur.event
}

// Frontier returns the forest leaves at the given depth, which is where the
// next generation attaches after depth generations.
func Frontier(forest *temporal.Dataset, depth int) []int {
	var out []int
	for _, id := range forest.Leaves() {
		if forest.Depth(id) == depth {
			out = append(out, id)
		}
	}
	return out
}

// Run grows the forest for the given number of generations, calling after
// (when non-nil) once per generation.
func (g *Engine) Run(ctx context.Context, forest *temporal.Dataset, frontier []int, generations int,
	after func(gen int, s Stats) error) ([]int, error) {
	for gen := 1; gen <= generations; gen++ {
		var (
			s   Stats
			err error
		)
		frontier, s, err = g.Grow(ctx, forest, frontier)
		if err != nil {
			return nil, err
		}
		if after != nil {
			if err := after(gen, s); err != nil {
				return nil, err
			}
		}
		if len(frontier) == 0 {
			break
		}
	}
	return frontier, nil
}
