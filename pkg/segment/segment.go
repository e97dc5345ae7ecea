// Package segment turns an ordered numeric sample stream into labeled,
// non-overlapping interval events.
package segment

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/pkg/calendar"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

// None is the class of a sample no template accepts.
const None = -1

// GapPolicy decides what an unmatched sample does to the open event.
type GapPolicy uint8

const (
	// Strict closes the open event on an unmatched sample.
	Strict GapPolicy = iota
	// SpacingAllowed bridges unmatched samples without closing the event.
	SpacingAllowed
)

func (p GapPolicy) String() string {
	if p == SpacingAllowed {
		return "spacing_allowed"
	}
	return "strict"
}

// ParseGapPolicy accepts "strict" and "spacing_allowed" (or "spacing").
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "spacing", "spacing_allowed", "spacing-allowed":
		return SpacingAllowed, nil
	}
	return 0, seqerr.Newf(seqerr.CodeMalformedInput, "unknown gap policy %q", s)
}

// Template accepts values in the closed range [Min, Max].
type Template struct {
	Label string
	Min   float64
	Max   float64
}

// Accepts reports whether v falls inside the template range.
func (t Template) Accepts(v float64) bool {
	return v >= t.Min && v <= t.Max
}

func (t Template) String() string {
	return fmt.Sprintf("%s[%g,%g]", t.Label, t.Min, t.Max)
}

// Options configure a Segmenter.
type Options struct {
	Templates []Template
	Gap       GapPolicy

	// Mutiny absorbs a single sample of another class (or of no class) when
	// the samples on both sides of it belong to the open event.
	Mutiny bool

	// Granularity tags the produced elements. The zero value means
	// milliseconds counted from the epoch.
	Granularity calendar.Granularity
}

// Segmenter discretizes samples. It is immutable and safe for concurrent use.
type Segmenter struct {
	templates []Template
	gap       GapPolicy
	mutiny    bool
	gran      calendar.Granularity
}

// New validates the templates and returns a Segmenter. Templates must have
// ordered bounds and must not overlap one another.
func New(opts Options) (*Segmenter, error) {
	for i, t := range opts.Templates {
		if math.IsNaN(t.Min) || math.IsNaN(t.Max) || t.Min > t.Max {
			return nil, seqerr.New(seqerr.CodeMalformedInput, "template range is invalid").
				WithContext("template", i).
				WithContext("range", t.String())
		}
		for j := 0; j < i; j++ {
			o := opts.Templates[j]
			if t.Min <= o.Max && o.Min <= t.Max {
				return nil, seqerr.New(seqerr.CodeMalformedInput, "templates are not mutually exclusive").
					WithContext("template", t.String()).
					WithContext("other", o.String())
			}
		}
	}
	g := opts.Granularity
	if g == (calendar.Granularity{}) {
		g = calendar.Granularity{
			CalendarID:           calendar.GregorianID,
			GranularityID:        calendar.Millisecond,
			ContextGranularityID: calendar.Top,
		}
	}
	return &Segmenter{
		templates: slices.Clone(opts.Templates),
		gap:       opts.Gap,
		mutiny:    opts.Mutiny,
		gran:      g,
	}, nil
}

// Templates returns the segmenter's templates in class order.
func (s *Segmenter) Templates() []Template {
	return slices.Clone(s.templates)
}

// Classify returns the index of the first template accepting v, or None.
func (s *Segmenter) Classify(v float64) int {
	for i, t := range s.templates {
		if t.Accepts(v) {
			return i
		}
	}
	return None
}

// Event is one closed segment.
type Event struct {
	Class   int
	Label   string
	Start   int64
	End     int64
	Samples int
	Mean    float64
}

// Events scans samples in order and returns the closed events.
//
// Each sample must start after the previous one ends and values must not be
// NaN; the first violation is returned as MalformedInput naming the row.
func (s *Segmenter) Events(samples []model.Sample) ([]Event, error) {
	classes := make([]int, len(samples))
	for i, smp := range samples {
		if math.IsNaN(smp.Value) {
			return nil, seqerr.MalformedRow("value is not a number", rowOf(smp, i), "value")
		}
		if i > 0 && smp.Timestamp <= samples[i-1].Last() {
			return nil, seqerr.MalformedRow("timestamps are not strictly increasing", rowOf(smp, i), "timestamp").
				WithContext("previous", samples[i-1].Last()).
				WithContext("timestamp", smp.Timestamp)
		}
		classes[i] = s.Classify(smp.Value)
	}

	var (
		events []Event
		open   *Event
		sum    float64
	)
	closeOpen := func() {
		if open == nil {
			return
		}
		open.Mean = sum / float64(open.Samples)
		events = append(events, *open)
		open, sum = nil, 0
	}

	for i, smp := range samples {
		cls := classes[i]
		switch {
		case open != nil && cls == open.Class:
			open.End = smp.Last()
			open.Samples++
			sum += smp.Value

		case open != nil && s.mutiny && i+1 < len(samples) && classes[i+1] == open.Class:
			// single outlier inside a run; the run continues

		case cls == None:
			if open != nil && s.gap == SpacingAllowed {
				continue
			}
			closeOpen()

		default:
			closeOpen()
			open = &Event{
				Class:   cls,
				Label:   s.templates[cls].Label,
				Start:   smp.Timestamp,
				End:     smp.Last(),
				Samples: 1,
			}
			sum = smp.Value
		}
	}
	closeOpen()
	return events, nil
}

func rowOf(smp model.Sample, i int) int {
	if smp.Row > 0 {
		return smp.Row
	}
	return i + 1
}

// Segment builds a dataset of interval events from samples. Every event is
// registered as a forest root. No matching sample yields an empty dataset.
func (s *Segmenter) Segment(name string, samples []model.Sample) (*temporal.Dataset, error) {
	events, err := s.Events(samples)
	if err != nil {
		return nil, err
	}
	ds := temporal.NewDataset(name)
	for _, ev := range events {
		el, err := ds.Store().AddIntervalBounds(ev.Start, ev.End, s.gran)
		if err != nil {
			return nil, err
		}
		id, err := ds.Add(el.ID, temporal.Tuple{
			Label: ev.Label,
			Class: ev.Class,
			Value: ev.Mean,
			Fields: map[string]any{
				"samples": ev.Samples,
			},
		})
		if err != nil {
			return nil, err
		}
		if err := ds.AddRoot(id); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// SegmentSeries segments one series, naming the dataset after its key.
func (s *Segmenter) SegmentSeries(series model.Series) (*temporal.Dataset, error) {
	ds, err := s.Segment(series.Key, series.Samples)
	if err != nil {
		return nil, seqerr.Wrapf(err, seqerr.GetCode(err), "segmenting series %q", series.Key)
	}
	return ds, nil
}
