package source

import (
	"time"

	"github.com/teranos/datapump/errors"
)

// Remote timestamps are always GMT.
const (
	TimeFormat = "2006-01-02 15:04:05"
	DateFormat = "2006-01-02"
)

// ParseTime parses a remote timestamp or date.
func ParseTime(s string) (time.Time, error) {
	switch len(s) {
	case len(TimeFormat):
		t, err := time.ParseInLocation(TimeFormat, s, time.UTC)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
		}
		return t, nil
	case len(DateFormat):
		t, err := time.ParseInLocation(DateFormat, s, time.UTC)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid date %q", s)
		}
		return t, nil
	default:
		return time.Time{}, errors.Newf("invalid timestamp %q", s)
	}
}

// FormatTime renders t in the remote timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// IsTimestampShape reports whether s looks like "dddd-dd-dd dd:dd:dd".
func IsTimestampShape(s string) bool {
	if len(s) != len(TimeFormat) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch i {
		case 4, 7:
			if c != '-' {
				return false
			}
		case 10:
			if c != ' ' {
				return false
			}
		case 13, 16:
			if c != ':' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
