package pool

import "time"

// Timestamp layouts tried after the ISO fast path, ordered by likelihood.
var commonLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
}

// Named layouts accepted by ParseMillisAs besides Go reference layouts.
const (
	LayoutAuto    = ""
	LayoutUnixMs  = "unix_ms"
	LayoutUnix    = "unix"
	LayoutExcel   = "excel"
	LayoutISO8601 = "iso8601"
	LayoutRFC3339 = "rfc3339"
)

const (
	excelEpochMs  = -2209161600000 // 1899-12-30T00:00:00Z
	millisPerDay  = 24 * 60 * 60 * 1000
	millisPerSec  = 1000
	nanosPerMilli = int64(time.Millisecond)
)

// ParseMillis parses a timestamp to milliseconds since the Unix epoch.
// ISO 8601 dates take a byte-level fast path; bare numbers are epoch
// milliseconds.
func ParseMillis(b []byte) (int64, error) {
	return ParseMillisAs(b, LayoutAuto)
}

// ParseMillisAs parses b using layout, which is one of the Layout constants
// or a Go reference layout.
func ParseMillisAs(b []byte, layout string) (int64, error) {
	b = TrimSpaces(b)
	if len(b) == 0 {
		return 0, ErrInvalidTimestamp
	}
	switch layout {
	case LayoutAuto:
	case LayoutUnixMs:
		return parseEpoch(b, 1)
	case LayoutUnix:
		return parseEpoch(b, millisPerSec)
	case LayoutExcel:
		return parseExcelEpoch(b)
	case LayoutISO8601, LayoutRFC3339:
		if len(b) >= 10 && b[4] == '-' && b[7] == '-' {
			return parseISO8601Fast(b)
		}
		return 0, ErrInvalidTimestamp
	default:
		t, err := time.Parse(layout, BytesToString(b))
		if err != nil {
			return 0, ErrInvalidTimestamp
		}
		return t.UnixMilli(), nil
	}

	if len(b) >= 10 && b[4] == '-' && b[7] == '-' {
		return parseISO8601Fast(b)
	}
	if isNumeric(b) {
		return parseEpoch(b, 1)
	}
	s := BytesToString(b)
	for _, l := range commonLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, ErrInvalidTimestamp
}

func parseEpoch(b []byte, scale int64) (int64, error) {
	if n, err := ParseInt64(b); err == nil {
		return n * scale, nil
	}
	f, err := ParseFloat64(b)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	return int64(f * float64(scale)), nil
}

// parseISO8601Fast parses YYYY-MM-DD[(T| )hh:mm:ss[.frac]][Z|±hh[:]mm]
// using direct byte arithmetic.
func parseISO8601Fast(b []byte) (int64, error) {
	year := parseInt4(b[0:4])
	month := parseInt2(b[5:7])
	day := parseInt2(b[8:10])
	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, ErrInvalidTimestamp
	}

	var hour, minute, second, nsec int
	loc := time.UTC
	rest := b[10:]
	if len(rest) > 0 {
		if rest[0] != 'T' && rest[0] != ' ' {
			return 0, ErrInvalidTimestamp
		}
		if len(b) < 19 || b[13] != ':' || b[16] != ':' {
			return 0, ErrInvalidTimestamp
		}
		hour = parseInt2(b[11:13])
		minute = parseInt2(b[14:16])
		second = parseInt2(b[17:19])
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 60 {
			return 0, ErrInvalidTimestamp
		}

		i := 19
		if i < len(b) && b[i] == '.' {
			end := i + 1
			for end < len(b) && b[end] >= '0' && b[end] <= '9' {
				end++
			}
			nsec = parseFraction(b[i+1 : end])
			i = end
		}
		if i < len(b) {
			switch b[i] {
			case 'Z', 'z':
				i++
			case '+', '-':
				sign := b[i]
				if i+3 > len(b) {
					return 0, ErrInvalidTimestamp
				}
				hh := parseInt2(b[i+1 : i+3])
				mm := 0
				switch {
				case i+6 <= len(b) && b[i+3] == ':':
					mm = parseInt2(b[i+4 : i+6])
					i += 6
				case i+5 <= len(b):
					mm = parseInt2(b[i+3 : i+5])
					i += 5
				default:
					i += 3
				}
				if hh < 0 || mm < 0 {
					return 0, ErrInvalidTimestamp
				}
				offset := hh*3600 + mm*60
				if sign == '-' {
					offset = -offset
				}
				loc = time.FixedZone("", offset)
			default:
				return 0, ErrInvalidTimestamp
			}
		}
		if i != len(b) {
			return 0, ErrInvalidTimestamp
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc)
	return t.UnixNano() / nanosPerMilli, nil
}

// parseExcelEpoch parses an Excel serial date (days since 1899-12-30).
func parseExcelEpoch(b []byte) (int64, error) {
	val, err := ParseFloat64(b)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	return excelEpochMs + int64(val*millisPerDay+0.5), nil
}

// parseInt4 parses four ASCII digits, or returns -1.
func parseInt4(b []byte) int {
	if len(b) != 4 {
		return -1
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// parseInt2 parses two ASCII digits, or returns -1.
func parseInt2(b []byte) int {
	if len(b) != 2 || b[0] < '0' || b[0] > '9' || b[1] < '0' || b[1] > '9' {
		return -1
	}
	return int(b[0]-'0')*10 + int(b[1]-'0')
}

// parseFraction parses fractional seconds to nanoseconds.
func parseFraction(b []byte) int {
	var result int64
	multiplier := int64(100000000)
	for i := 0; i < len(b) && i < 9; i++ {
		result += int64(b[i]-'0') * multiplier
		multiplier /= 10
	}
	return int(result)
}

// isNumeric reports whether b is an optionally signed decimal number.
func isNumeric(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	dots, digits := 0, 0
	for i, c := range b {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && dots == 0:
			dots++
		case c == '-' && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// FormatMillis renders ms as an RFC 3339 UTC timestamp with milliseconds.
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ErrInvalidTimestamp indicates a timestamp parsing error.
var ErrInvalidTimestamp = &TimestampError{"invalid timestamp format"}

// TimestampError represents a timestamp parsing error.
type TimestampError struct {
	msg string
}

func (e *TimestampError) Error() string {
	return e.msg
}
