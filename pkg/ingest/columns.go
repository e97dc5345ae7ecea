package ingest

import (
	"math"
	"strings"

	"github.com/logflow/seqmine/internal/model"
	"github.com/logflow/seqmine/internal/pool"
	"github.com/logflow/seqmine/pkg/calendar"
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Encoding is how a row locates itself in time.
type Encoding uint8

const (
	// Instant rows carry a single timestamp.
	Instant Encoding = iota
	// BeginEnd rows carry both interval endpoints.
	BeginEnd
	// BeginDuration rows carry the start and a length.
	BeginDuration
	// EndDuration rows carry the last chronon and a length.
	EndDuration
)

func (e Encoding) String() string {
	switch e {
	case BeginEnd:
		return "begin+end"
	case BeginDuration:
		return "begin+duration"
	case EndDuration:
		return "end+duration"
	default:
		return "instant"
	}
}

// ColumnSpec names the columns holding each part of a sample.
//
// A row is either an instant (Timestamp only) or an interval given by
// exactly two of Begin, End and Duration.
type ColumnSpec struct {
	Timestamp string `yaml:"timestamp"`
	Begin     string `yaml:"begin"`
	End       string `yaml:"end"`
	Duration  string `yaml:"duration"`
	Value     string `yaml:"value"`

	// Series groups rows into independent streams. Empty means one stream.
	Series string `yaml:"series"`

	// Layout is a Go reference layout or one of "unix", "unix_ms",
	// "excel", "iso8601". Empty auto-detects; bare numbers are epoch ms.
	Layout string `yaml:"layout"`

	// DurationUnit scales the duration column. Defaults to milliseconds.
	DurationUnit string `yaml:"duration_unit"`

	// Attributes are copied verbatim into Sample.Attributes.
	Attributes []string `yaml:"attributes"`
}

// Encoding validates the time columns and reports the encoding they describe.
func (c ColumnSpec) Encoding() (Encoding, error) {
	set := 0
	for _, s := range []string{c.Begin, c.End, c.Duration} {
		if s != "" {
			set++
		}
	}
	switch {
	case c.Timestamp != "" && set > 0:
		return 0, seqerr.New(seqerr.CodeMalformedInput, "time encoding is over-specified").
			WithContext("detail", "timestamp cannot be combined with begin, end or duration")
	case c.Timestamp != "":
		return Instant, nil
	case set == 3:
		return 0, seqerr.New(seqerr.CodeMalformedInput, "time encoding is over-specified").
			WithContext("detail", "give exactly two of begin, end and duration")
	case set < 2:
		return 0, seqerr.New(seqerr.CodeMalformedInput, "time encoding is under-specified").
			WithContext("detail", "give a timestamp or two of begin, end and duration")
	case c.Duration == "":
		return BeginEnd, nil
	case c.End == "":
		return BeginDuration, nil
	default:
		return EndDuration, nil
	}
}

// Validate checks the spec independently of any header.
func (c ColumnSpec) Validate() error {
	if _, err := c.Encoding(); err != nil {
		return err
	}
	if c.Value == "" {
		return seqerr.New(seqerr.CodeMalformedInput, "value column is required")
	}
	if c.DurationUnit != "" {
		if _, err := calendar.ParseUnit(c.DurationUnit); err != nil {
			return err
		}
	}
	return nil
}

// converter turns records into samples once column positions are known.
type converter struct {
	spec     ColumnSpec
	encoding Encoding
	unit     calendar.Unit

	ts, begin, end, dur, value, series int
	attrs                              []int
}

func newConverter(spec ColumnSpec, header []string) (*converter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	enc, _ := spec.Encoding()
	unit := calendar.Millisecond
	if spec.DurationUnit != "" {
		unit, _ = calendar.ParseUnit(spec.DurationUnit)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; dup {
			return nil, seqerr.DuplicateKey("header", h)
		}
		index[h] = i
	}
	find := func(name string) (int, error) {
		if name == "" {
			return -1, nil
		}
		i, ok := index[name]
		if !ok {
			return -1, seqerr.New(seqerr.CodeMalformedInput, "column not found").
				WithContext("column", name).
				WithContext("header", header)
		}
		return i, nil
	}

	c := &converter{spec: spec, encoding: enc, unit: unit}
	var err error
	for _, f := range []struct {
		dst  *int
		name string
	}{
		{&c.ts, spec.Timestamp},
		{&c.begin, spec.Begin},
		{&c.end, spec.End},
		{&c.dur, spec.Duration},
		{&c.value, spec.Value},
		{&c.series, spec.Series},
	} {
		if *f.dst, err = find(f.name); err != nil {
			return nil, err
		}
	}
	for _, a := range spec.Attributes {
		i, err := find(a)
		if err != nil {
			return nil, err
		}
		c.attrs = append(c.attrs, i)
	}
	return c, nil
}

func (c *converter) cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (c *converter) chronon(rec []string, i int, column string, row int) (int64, error) {
	raw := c.cell(rec, i)
	if raw == "" {
		return 0, seqerr.MalformedRow("timestamp is empty", row, column)
	}
	ms, err := pool.ParseMillisAs(pool.StringToBytes(raw), c.spec.Layout)
	if err != nil {
		return 0, seqerr.MalformedRow("timestamp cannot be parsed", row, column).
			WithContext("value", raw)
	}
	return ms, nil
}

// shift applies a duration to t, forward when sign is 1 and backward when -1.
func (c *converter) shift(rec []string, t int64, sign int, row int) (int64, error) {
	raw := c.cell(rec, c.dur)
	d, err := pool.ParseFloat64(pool.StringToBytes(raw))
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, seqerr.MalformedRow("duration is not a number", row, c.spec.Duration).
			WithContext("value", raw)
	}
	if d < 0 {
		return 0, seqerr.MalformedRow("duration is negative", row, c.spec.Duration).
			WithContext("value", raw)
	}
	if size, ok := c.unit.FixedSize(); ok {
		return t + int64(sign)*int64(math.Round(d*float64(size))), nil
	}
	if d != math.Trunc(d) {
		return 0, seqerr.MalformedRow("calendar durations must be whole", row, c.spec.Duration).
			WithContext("unit", c.unit.String()).
			WithContext("value", raw)
	}
	return calendar.Shift(t, c.unit, sign*int(d)), nil
}

// convert builds the sample of a 1-based data row and returns its series key.
func (c *converter) convert(rec []string, row int) (string, model.Sample, error) {
	smp := model.Sample{Row: row}

	var err error
	switch c.encoding {
	case Instant:
		if smp.Timestamp, err = c.chronon(rec, c.ts, c.spec.Timestamp, row); err != nil {
			return "", smp, err
		}
		smp.End = smp.Timestamp
	case BeginEnd:
		if smp.Timestamp, err = c.chronon(rec, c.begin, c.spec.Begin, row); err != nil {
			return "", smp, err
		}
		if smp.End, err = c.chronon(rec, c.end, c.spec.End, row); err != nil {
			return "", smp, err
		}
	case BeginDuration:
		if smp.Timestamp, err = c.chronon(rec, c.begin, c.spec.Begin, row); err != nil {
			return "", smp, err
		}
		if smp.End, err = c.shift(rec, smp.Timestamp, 1, row); err != nil {
			return "", smp, err
		}
	case EndDuration:
		if smp.End, err = c.chronon(rec, c.end, c.spec.End, row); err != nil {
			return "", smp, err
		}
		if smp.Timestamp, err = c.shift(rec, smp.End, -1, row); err != nil {
			return "", smp, err
		}
	}
	if smp.End < smp.Timestamp {
		return "", smp, seqerr.MalformedRow("interval ends before it begins", row, c.spec.End).
			WithContext("begin", smp.Timestamp).
			WithContext("end", smp.End)
	}

	raw := c.cell(rec, c.value)
	v, perr := pool.ParseFloat64(pool.StringToBytes(raw))
	if perr != nil || math.IsNaN(v) {
		return "", smp, seqerr.MalformedRow("value is not a number", row, c.spec.Value).
			WithContext("value", raw)
	}
	smp.Value = v

	if len(c.attrs) > 0 {
		smp.Attributes = make(map[string]string, len(c.attrs))
		for k, i := range c.attrs {
			smp.Attributes[c.spec.Attributes[k]] = c.cell(rec, i)
		}
	}
	return c.cell(rec, c.series), smp, nil
}
