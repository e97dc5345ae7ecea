package calendar

import (
	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Bit widths of the composite identifier, least significant field first:
//
//	bits  0-15  granularity (16)
//	bits 16-23  type        (8)
//	bits 24-31  calendar    (8)
//	bits 32-35  version     (4)
//	bits 36-39  manager     (4)
//
// Bits 40-63 are always zero, so every encoded identifier is non-negative.
const (
	GranularityBits = 16
	TypeBits        = 8
	CalendarBits    = 8
	VersionBits     = 4
	ManagerBits     = 4

	granularityShift = 0
	typeShift        = granularityShift + GranularityBits
	calendarShift    = typeShift + TypeBits
	versionShift     = calendarShift + CalendarBits
	managerShift     = versionShift + VersionBits
	identifierBits   = managerShift + ManagerBits
)

// Identifier is the decomposed form of a composite granularity identifier.
type Identifier struct {
	Manager     uint32
	Version     uint32
	Calendar    uint32
	Type        uint32
	Granularity uint32
}

func fits(v uint32, bits int) bool {
	return uint64(v) < uint64(1)<<bits
}

// Encode packs the identifier into one integer. It fails if any sub-field
// exceeds its bit width.
func (id Identifier) Encode() (int64, error) {
	fields := []struct {
		name string
		v    uint32
		bits int
	}{
		{"manager", id.Manager, ManagerBits},
		{"version", id.Version, VersionBits},
		{"calendar", id.Calendar, CalendarBits},
		{"type", id.Type, TypeBits},
		{"granularity", id.Granularity, GranularityBits},
	}
	for _, f := range fields {
		if !fits(f.v, f.bits) {
			return 0, seqerr.New(seqerr.CodeMalformedInput, "identifier sub-field out of range").
				WithContext("field", f.name).
				WithContext("value", f.v).
				WithContext("bits", f.bits)
		}
	}

	return int64(id.Manager)<<managerShift |
		int64(id.Version)<<versionShift |
		int64(id.Calendar)<<calendarShift |
		int64(id.Type)<<typeShift |
		int64(id.Granularity)<<granularityShift, nil
}

// MustEncode is Encode for identifiers known to be in range.
func (id Identifier) MustEncode() int64 {
	v, err := id.Encode()
	if err != nil {
		panic(err)
	}
	return v
}

// DecodeIdentifier unpacks a composite identifier produced by Encode.
func DecodeIdentifier(v int64) (Identifier, error) {
	if v < 0 || v>>identifierBits != 0 {
		return Identifier{}, seqerr.New(seqerr.CodeMalformedInput, "composite identifier has bits outside the layout").
			WithContext("value", v)
	}
	mask := func(bits int) int64 { return int64(1)<<bits - 1 }
	return Identifier{
		Manager:     uint32(v >> managerShift & mask(ManagerBits)),
		Version:     uint32(v >> versionShift & mask(VersionBits)),
		Calendar:    uint32(v >> calendarShift & mask(CalendarBits)),
		Type:        uint32(v >> typeShift & mask(TypeBits)),
		Granularity: uint32(v >> granularityShift & mask(GranularityBits)),
	}, nil
}
