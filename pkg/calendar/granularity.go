package calendar

import (
	"fmt"
	"sort"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Granularity type identifiers.
const (
	TypeRegular uint32 = 0 // a unit counted within a coarser context
	TypeTop     uint32 = 1 // the single granule spanning the whole axis
)

// GregorianID is the calendar identifier of the built-in Gregorian calendar.
const GregorianID = 1

// Granularity identifies a unit of time counted within a containing context.
type Granularity struct {
	CalendarID           int
	TypeID               uint32
	GranularityID        Unit
	ContextGranularityID Unit
}

// String renders the granularity as "<unit> of <context>".
func (g Granularity) String() string {
	if g.TypeID == TypeTop {
		return "top"
	}
	return fmt.Sprintf("%s of %s", g.GranularityID, g.ContextGranularityID)
}

// Compare orders granularities from finest to coarsest unit, then by context
// and calendar. It returns -1, 0 or +1.
func Compare(a, b Granularity) int {
	switch {
	case a.GranularityID != b.GranularityID:
		return cmpInt(int(a.GranularityID), int(b.GranularityID))
	case a.ContextGranularityID != b.ContextGranularityID:
		return cmpInt(int(a.ContextGranularityID), int(b.ContextGranularityID))
	default:
		return cmpInt(a.CalendarID, b.CalendarID)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Granule is one concrete occurrence of a granularity.
type Granule struct {
	Inf          int64
	Sup          int64
	Granularity  Granularity
	OrdinalLabel int64
}

// Contains reports whether chronon lies within the granule.
func (g Granule) Contains(chronon int64) bool {
	return g.Inf <= chronon && chronon <= g.Sup
}

// Label renders the granule, e.g. "day 17 of month".
func (g Granule) Label() string {
	if g.Granularity.TypeID == TypeTop {
		return "top"
	}
	return fmt.Sprintf("%s %d of %s", g.Granularity.GranularityID, g.OrdinalLabel, g.Granularity.ContextGranularityID)
}

type lookupKey struct {
	calendar int
	label    string
	context  string
}

// Registry owns the calendars and granularities known to one pipeline. It is
// built once and passed by reference; it is safe for concurrent reads.
type Registry struct {
	manager uint32
	version uint32

	calendars     map[int]string
	granularities map[lookupKey]Granularity
}

// NewRegistry returns a registry holding the Gregorian calendar with every
// legal (unit, context) combination.
func NewRegistry() *Registry {
	r := &Registry{
		manager:       1,
		version:       1,
		calendars:     map[int]string{GregorianID: "gregorian"},
		granularities: make(map[lookupKey]Granularity),
	}
	for u := Millisecond; u < Top; u++ {
		for ctx := u + 1; ctx <= Top; ctx++ {
			r.granularities[lookupKey{GregorianID, u.String(), ctx.String()}] = Granularity{
				CalendarID:           GregorianID,
				TypeID:               TypeRegular,
				GranularityID:        u,
				ContextGranularityID: ctx,
			}
		}
	}
	r.granularities[lookupKey{GregorianID, Top.String(), Top.String()}] = TopGranularity(GregorianID)
	return r
}

// TopGranularity returns the top granularity of a calendar.
func TopGranularity(calendarID int) Granularity {
	return Granularity{
		CalendarID:           calendarID,
		TypeID:               TypeTop,
		GranularityID:        Top,
		ContextGranularityID: Top,
	}
}

// Lookup resolves a granularity by label and context label, e.g.
// ("day", "month").
func (r *Registry) Lookup(calendarID int, label, contextLabel string) (Granularity, error) {
	if _, ok := r.calendars[calendarID]; !ok {
		return Granularity{}, seqerr.New(seqerr.CodeMalformedInput, "unknown calendar").
			WithContext("calendar", calendarID)
	}
	g, ok := r.granularities[lookupKey{calendarID, label, contextLabel}]
	if !ok {
		return Granularity{}, seqerr.New(seqerr.CodeMalformedInput, "unknown granularity").
			WithContext("calendar", calendarID).
			WithContext("granularity", label).
			WithContext("context", contextLabel)
	}
	return g, nil
}

// Granularities lists the registered granularities of a calendar, finest first.
func (r *Registry) Granularities(calendarID int) []Granularity {
	var out []Granularity
	for k, g := range r.granularities {
		if k.calendar == calendarID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}

// Identifier returns the composite identifier of g under this registry's
// manager and version.
func (r *Registry) Identifier(g Granularity) (int64, error) {
	return Identifier{
		Manager:     r.manager,
		Version:     r.version,
		Calendar:    uint32(g.CalendarID),
		Type:        g.TypeID,
		Granularity: uint32(g.GranularityID)<<8 | uint32(g.ContextGranularityID),
	}.Encode()
}

// Resolve is the inverse of Identifier.
func (r *Registry) Resolve(id int64) (Granularity, error) {
	dec, err := DecodeIdentifier(id)
	if err != nil {
		return Granularity{}, err
	}
	if dec.Manager != r.manager || dec.Version != r.version {
		return Granularity{}, seqerr.New(seqerr.CodeMalformedInput, "identifier belongs to another registry").
			WithContext("manager", dec.Manager).
			WithContext("version", dec.Version)
	}
	g := Granularity{
		CalendarID:           int(dec.Calendar),
		TypeID:               dec.Type,
		GranularityID:        Unit(dec.Granularity >> 8),
		ContextGranularityID: Unit(dec.Granularity & 0xff),
	}
	if _, ok := r.granularities[lookupKey{g.CalendarID, g.GranularityID.String(), g.ContextGranularityID.String()}]; !ok {
		return Granularity{}, seqerr.New(seqerr.CodeMalformedInput, "identifier names no registered granularity").
			WithContext("value", id)
	}
	return g, nil
}

// Granule returns the occurrence of g containing chronon. OrdinalLabel is the
// 1-based position within the enclosing context granule; under the Top
// context it is the absolute index counted from the epoch.
func (r *Registry) Granule(g Granularity, chronon int64) Granule {
	inf, sup := bounds(g.GranularityID, chronon)
	gr := Granule{Inf: inf, Sup: sup, Granularity: g}

	switch {
	case g.TypeID == TypeTop:
		gr.OrdinalLabel = 0
	case g.ContextGranularityID == Top:
		gr.OrdinalLabel = unitIndex(g.GranularityID, chronon)
	default:
		ctxInf, _ := bounds(g.ContextGranularityID, chronon)
		gr.OrdinalLabel = unitIndex(g.GranularityID, chronon) - unitIndex(g.GranularityID, ctxInf) + 1
	}
	return gr
}

// Shift moves chronon by n units of g's granularity.
func (r *Registry) Shift(g Granularity, chronon int64, n int) int64 {
	return Shift(chronon, g.GranularityID, n)
}
