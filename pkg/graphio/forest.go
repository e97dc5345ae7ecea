// Package graphio persists pattern forests and counted pattern-type graphs
// as gzip-compressed JSON manifests.
//
// Forest manifests keep object ids, including the slots of removed nodes, so
// a forest read back addresses its nodes exactly as the one written.
package graphio

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/logflow/seqmine/pkg/calendar"
	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/temporal"
)

// Version of the manifest layout.
const Version = "1.0"

// ForestManifest is the serializable form of a dataset and its forest.
type ForestManifest struct {
	Version string       `json:"version"`
	Kind    string       `json:"kind"`
	Name    string       `json:"name"`
	Roots   []int        `json:"roots"`
	Nodes   []ForestNode `json:"nodes"`
}

// ForestNode is one object slot.
type ForestNode struct {
	ID        int            `json:"id"`
	Label     string         `json:"label"`
	Class     int            `json:"class"`
	Value     float64        `json:"value,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Element   ElementJSON    `json:"element"`
	Parent    int            `json:"parent"`
	EdgeClass int            `json:"edge_class"`
	Children  []int          `json:"children,omitempty"`
	Removed   bool           `json:"removed,omitempty"`
}

// ElementJSON is the serializable form of a temporal element.
type ElementJSON struct {
	Kind        string        `json:"kind"`
	Inf         int64         `json:"inf"`
	Sup         int64         `json:"sup"`
	Granularity GranularityID `json:"granularity"`
	Parts       []ElementJSON `json:"parts,omitempty"`
}

// GranularityID is the serializable form of a granularity.
type GranularityID struct {
	Calendar int    `json:"calendar"`
	Type     uint32 `json:"type,omitempty"`
	Unit     string `json:"unit"`
	Context  string `json:"context"`
}

func granularityJSON(g calendar.Granularity) GranularityID {
	return GranularityID{
		Calendar: g.CalendarID,
		Type:     g.TypeID,
		Unit:     g.GranularityID.String(),
		Context:  g.ContextGranularityID.String(),
	}
}

func (g GranularityID) granularity() (calendar.Granularity, error) {
	unit, err := calendar.ParseUnit(g.Unit)
	if err != nil {
		return calendar.Granularity{}, err
	}
	ctx, err := calendar.ParseUnit(g.Context)
	if err != nil {
		return calendar.Granularity{}, err
	}
	return calendar.Granularity{
		CalendarID:           g.Calendar,
		TypeID:               g.Type,
		GranularityID:        unit,
		ContextGranularityID: ctx,
	}, nil
}

func elementJSON(e temporal.Element) ElementJSON {
	out := ElementJSON{
		Kind:        e.Kind.String(),
		Inf:         e.Inf,
		Sup:         e.Sup,
		Granularity: granularityJSON(e.Granularity),
	}
	for _, p := range e.Parts {
		out.Parts = append(out.Parts, elementJSON(p))
	}
	return out
}

// restore stores ej (and, for intervals and sets, its anchors and parts)
// and returns the stored element.
func restore(s *temporal.Store, ej ElementJSON) (temporal.Element, error) {
	g, err := ej.Granularity.granularity()
	if err != nil {
		return temporal.Element{}, err
	}
	switch ej.Kind {
	case temporal.KindInstant.String():
		return s.AddInstant(ej.Inf, g), nil
	case temporal.KindInterval.String():
		return s.AddIntervalBounds(ej.Inf, ej.Sup, g)
	case temporal.KindSpan.String():
		return s.AddSpan(ej.Sup-ej.Inf, g)
	case temporal.KindSet.String():
		ids := make([]int64, 0, len(ej.Parts))
		for _, p := range ej.Parts {
			el, err := restore(s, p)
			if err != nil {
				return temporal.Element{}, err
			}
			ids = append(ids, el.ID)
		}
		return s.AddSet(ids...)
	}
	return temporal.Element{}, seqerr.Newf(seqerr.CodeMalformedInput, "unknown element kind %q", ej.Kind)
}

// ToForestManifest converts ds to its manifest.
func ToForestManifest(ds *temporal.Dataset) *ForestManifest {
	m := &ForestManifest{
		Version: Version,
		Kind:    "forest",
		Name:    ds.Name,
		Roots:   ds.Roots(),
		Nodes:   make([]ForestNode, 0, ds.Cap()),
	}
	for id := 0; id < ds.Cap(); id++ {
		obj := ds.Object(id)
		n := ForestNode{
			ID:        id,
			Label:     obj.Data.Label,
			Class:     obj.Data.Class,
			Value:     obj.Data.Value,
			Fields:    obj.Data.Fields,
			Element:   elementJSON(ds.Element(id)),
			Parent:    temporal.NoParent,
			EdgeClass: temporal.NoEdge,
			Removed:   !ds.Alive(id),
		}
		if !n.Removed {
			if p, ok := ds.Parent(id); ok {
				n.Parent = p
				n.EdgeClass = ds.EdgeClass(id)
			}
			n.Children = append(n.Children, ds.Children(id)...)
		}
		m.Nodes = append(m.Nodes, n)
	}
	return m
}

// Dataset rebuilds the dataset described by m and validates its forest.
func (m *ForestManifest) Dataset() (*temporal.Dataset, error) {
	ds := temporal.NewDataset(m.Name)
	for i, n := range m.Nodes {
		if n.ID != i {
			return nil, seqerr.New(seqerr.CodeMalformedInput, "manifest node ids must be dense and ordered").
				WithContext("position", i).
				WithContext("id", n.ID)
		}
		el, err := restore(ds.Store(), n.Element)
		if err != nil {
			return nil, seqerr.Wrap(err, seqerr.GetCode(err), "restoring element").WithContext("node", i)
		}
		if _, err := ds.Add(el.ID, temporal.Tuple{
			Label:  n.Label,
			Class:  n.Class,
			Value:  n.Value,
			Fields: normalizeFields(n.Fields),
		}); err != nil {
			return nil, err
		}
	}

	for _, r := range m.Roots {
		if r < 0 || r >= len(m.Nodes) {
			return nil, seqerr.Structural("root out of range", r)
		}
		if err := ds.AddRoot(r); err != nil {
			return nil, err
		}
	}
	for _, n := range m.Nodes {
		for _, c := range n.Children {
			if c < 0 || c >= len(m.Nodes) {
				return nil, seqerr.Structural("child out of range", c).WithContext("parent", n.ID)
			}
			if m.Nodes[c].Parent != n.ID {
				return nil, seqerr.Structural("child does not point back to parent", c).WithContext("parent", n.ID)
			}
			if err := ds.Attach(n.ID, c, m.Nodes[c].EdgeClass); err != nil {
				return nil, err
			}
		}
	}
	for _, n := range m.Nodes {
		if n.Removed {
			if _, err := ds.RemoveLeaf(n.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// normalizeFields turns decoded JSON numbers back into int or float64.
func normalizeFields(fields map[string]any) map[string]any {
	for k, v := range fields {
		num, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := num.Int64(); err == nil {
			fields[k] = int(i)
		} else if f, err := num.Float64(); err == nil {
			fields[k] = f
		}
	}
	return fields
}

// WriteForest writes ds as a gzip-compressed manifest.
func WriteForest(w io.Writer, ds *temporal.Dataset) error {
	return writeCompressed(w, ToForestManifest(ds))
}

// ReadForest reads a forest written by WriteForest.
func ReadForest(r io.Reader) (*temporal.Dataset, error) {
	var m ForestManifest
	if err := readCompressed(r, &m); err != nil {
		return nil, err
	}
	if m.Kind != "forest" {
		return nil, seqerr.New(seqerr.CodeReadFailed, "manifest is not a forest").WithContext("kind", m.Kind)
	}
	return m.Dataset()
}

// MarshalForest returns the compressed manifest bytes of ds.
func MarshalForest(ds *temporal.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteForest(&buf, ds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalForest is the inverse of MarshalForest.
func UnmarshalForest(data []byte) (*temporal.Dataset, error) {
	return ReadForest(bytes.NewReader(data))
}

func writeCompressed(w io.Writer, v any) error {
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "encoding manifest")
	}
	if err := gz.Close(); err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "compressing manifest")
	}
	return nil
}

func readCompressed(r io.Reader, v any) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeReadFailed, "opening manifest")
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return seqerr.Wrap(err, seqerr.CodeReadFailed, "decoding manifest")
	}
	return nil
}
