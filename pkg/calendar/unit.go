// Package calendar identifies and compares units of time.
//
// A Granularity names a unit counted within a coarser context unit (for
// example "day of month"). Granules are concrete occurrences of a granularity
// on the chronon axis, where one chronon is one millisecond since the Unix
// epoch (UTC). All calendar state lives in an explicitly constructed Registry;
// there is no process-wide calendar manager.
package calendar

import (
	"fmt"
	"strings"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Unit is a Gregorian time unit, ordered from finest to coarsest.
type Unit int

const (
	Millisecond Unit = iota
	Second
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
	Decade
	Top
)

// Chronon durations of the fixed-size units.
const (
	MillisPerSecond = int64(1000)
	MillisPerMinute = 60 * MillisPerSecond
	MillisPerHour   = 60 * MillisPerMinute
	MillisPerDay    = 24 * MillisPerHour
	MillisPerWeek   = 7 * MillisPerDay
)

var unitNames = [...]string{
	Millisecond: "millisecond",
	Second:      "second",
	Minute:      "minute",
	Hour:        "hour",
	Day:         "day",
	Week:        "week",
	Month:       "month",
	Quarter:     "quarter",
	Year:        "year",
	Decade:      "decade",
	Top:         "top",
}

// String returns the unit label.
func (u Unit) String() string {
	if u < Millisecond || u > Top {
		return fmt.Sprintf("unit(%d)", int(u))
	}
	return unitNames[u]
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	return u >= Millisecond && u <= Top
}

// ParseUnit resolves a unit label. Plural forms are accepted.
func ParseUnit(s string) (Unit, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for u, name := range unitNames {
		if name == s {
			return Unit(u), nil
		}
	}
	return 0, seqerr.Newf(seqerr.CodeMalformedInput, "unknown time unit %q", s)
}

// FixedSize returns the chronon length of fixed-size units. Calendar units
// (month and coarser) report ok=false.
func (u Unit) FixedSize() (size int64, ok bool) {
	switch u {
	case Millisecond:
		return 1, true
	case Second:
		return MillisPerSecond, true
	case Minute:
		return MillisPerMinute, true
	case Hour:
		return MillisPerHour, true
	case Day:
		return MillisPerDay, true
	case Week:
		return MillisPerWeek, true
	default:
		return 0, false
	}
}

// Finer reports whether u is strictly finer than other.
func (u Unit) Finer(other Unit) bool {
	return u < other
}

// CanContain reports whether granules of outer can serve as the counting
// context for inner. Weeks do not nest into months or years evenly, but they
// are still counted within them (week 1 is the week holding the first day).
func CanContain(outer, inner Unit) bool {
	return inner.Valid() && outer.Valid() && inner < outer
}
