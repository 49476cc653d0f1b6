package wire

import (
	"strconv"
	"time"
)

// Wire layouts for timestamps. Formatting picks the shortest layout that
// preserves the instant; parsing accepts any RFC 3339 fraction.
const (
	layoutSeconds = "2006-01-02T15:04:05Z07:00"
	layoutMillis  = "2006-01-02T15:04:05.000Z07:00"
	layoutNanos   = "2006-01-02T15:04:05.000000000Z07:00"
)

// FormatInt64 renders a 64-bit integer in its decimal-string wire form.
func FormatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}

// ParseInt64 parses the decimal-string wire form of a 64-bit integer.
// Values outside the int64 range or containing non-numeric characters
// fail with a *DecodeError.
func ParseInt64(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &DecodeError{Value: s, Reason: "not a 64-bit decimal integer"}
	}
	return n, nil
}

// FormatTime renders a timestamp in its RFC 3339 UTC wire form, e.g.
// "2024-01-15T10:30:00.500Z". Sub-second digits are emitted only when
// the instant has them: millisecond groups for millisecond precision,
// nanosecond groups otherwise. Instants outside the format's year range
// fail with an *EncodeError.
func FormatTime(t time.Time) (string, error) {
	t = t.UTC()
	if y := t.Year(); y < 0 || y > 9999 {
		return "", &EncodeError{Reason: "year outside RFC 3339 range"}
	}

	ns := t.Nanosecond()
	switch {
	case ns == 0:
		return t.Format(layoutSeconds), nil
	case ns%int(time.Millisecond) == 0:
		return t.Format(layoutMillis), nil
	default:
		return t.Format(layoutNanos), nil
	}
}

// ParseTime parses the RFC 3339 wire form of a timestamp, with or
// without fractional seconds. The result is normalized to UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &DecodeError{Value: s, Reason: "not an RFC 3339 timestamp"}
	}
	return t.UTC(), nil
}
