package calendar

import (
	"math"
	"time"
)

// Chronon bounds of the Top granule.
const (
	MinChronon = math.MinInt64
	MaxChronon = math.MaxInt64
)

// Epoch 1970-01-01 was a Thursday; weeks start on Monday.
const weekOffset = 3 * MillisPerDay

func toTime(chronon int64) time.Time {
	return time.UnixMilli(chronon).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// unitIndex returns the absolute index of the unit occurrence containing
// chronon, counted from the epoch. Index 0 of every unit contains chronon 0
// except weeks, whose index 0 starts on Monday 1969-12-29.
func unitIndex(u Unit, chronon int64) int64 {
	switch u {
	case Week:
		return floorDiv(chronon+weekOffset, MillisPerWeek)
	case Month:
		t := toTime(chronon)
		return int64(t.Year()-1970)*12 + int64(t.Month()-1)
	case Quarter:
		t := toTime(chronon)
		return int64(t.Year()-1970)*4 + int64(t.Month()-1)/3
	case Year:
		return int64(toTime(chronon).Year() - 1970)
	case Decade:
		return floorDiv(int64(toTime(chronon).Year()), 10) - 197
	case Top:
		return 0
	}
	size, _ := u.FixedSize()
	return floorDiv(chronon, size)
}

// unitStart returns the first chronon of the unit occurrence with the given
// absolute index.
func unitStart(u Unit, index int64) int64 {
	switch u {
	case Week:
		return index*MillisPerWeek - weekOffset
	case Month:
		return time.Date(1970, time.Month(1+index), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	case Quarter:
		return time.Date(1970, time.Month(1+3*index), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	case Year:
		return time.Date(int(1970+index), time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	case Decade:
		return time.Date(int(10*(197+index)), time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	case Top:
		return MinChronon
	}
	size, _ := u.FixedSize()
	return index * size
}

// bounds returns [inf, sup] of the unit occurrence containing chronon.
func bounds(u Unit, chronon int64) (inf, sup int64) {
	if u == Top {
		return MinChronon, MaxChronon
	}
	idx := unitIndex(u, chronon)
	return unitStart(u, idx), unitStart(u, idx+1) - 1
}

// Shift moves chronon by n occurrences of unit u. Calendar units use
// Gregorian date arithmetic, so shifting 2024-01-31 by one month yields
// 2024-03-02 as time.AddDate does.
func Shift(chronon int64, u Unit, n int) int64 {
	if size, ok := u.FixedSize(); ok {
		return chronon + int64(n)*size
	}
	t := toTime(chronon)
	switch u {
	case Month:
		t = t.AddDate(0, n, 0)
	case Quarter:
		t = t.AddDate(0, 3*n, 0)
	case Year:
		t = t.AddDate(n, 0, 0)
	case Decade:
		t = t.AddDate(10*n, 0, 0)
	default:
		return chronon
	}
	return t.UnixMilli()
}
