package trigger

import (
	"strings"
	"time"

	"remindd/internal/store"
)

// Accepted input shapes for trigger timestamps. Web forms deliver
// "2006-01-02T15:04" (datetime-local, no seconds); imports and hand edits
// use the space separator and sometimes carry seconds.
var inputLayouts = []string{
	store.TimeLayout, // canonical "2006-01-02 15:04:05"
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Normalize parses a raw slot value and returns the canonical
// second-precision form. ok is false when the value doesn't parse; the
// caller stores it verbatim and it never becomes due.
func Normalize(raw string, loc *time.Location) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range inputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Format(store.TimeLayout), true
		}
	}
	return s, false
}

// ParseFireTime parses a stored fire_time value. ok is false for verbatim
// unparseable values, which the poller must treat as never-due.
func ParseFireTime(stored string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(store.TimeLayout, stored, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
