package effect

import (
	"fmt"
	"strings"
	"time"
)

const (
	isoSeconds = "2006-01-02T15:04:05"
	isoMicros  = "2006-01-02T15:04:05.000000"
)

// FormatDateTime renders t the way the platform runtime parses datetimes:
// seconds precision, microseconds only when non-zero, and no offset for UTC.
func FormatDateTime(t time.Time) string {
	layout := isoSeconds
	if t.Nanosecond()/1000 != 0 {
		layout = isoMicros
	}
	if t.Location() == time.UTC {
		return t.Format(layout)
	}
	return t.Format(layout + "-07:00")
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	isoSeconds,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDateTime accepts RFC 3339 and offset-less ISO 8601 values. Values
// without an offset are taken as UTC.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}
