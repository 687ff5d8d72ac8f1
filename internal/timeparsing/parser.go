// Package timeparsing parses the time expressions accepted on the command
// line: product due dates and gcode print durations.
//
// Due dates are tried in layers, first match wins:
//  1. Compact offset (+6h, +3d, +1w, +90m)
//  2. Absolute timestamp (RFC3339, "2006-01-02 15:04", date-only)
//  3. Natural language (tomorrow 8pm, next friday, in 3 days)
package timeparsing

import (
	"fmt"
	"strings"
	"time"
)

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseRelativeTime resolves s against now. Offsets and natural language are
// interpreted in now's location, as are absolute values without a zone.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := ParseAbsolute(s, now.Location()); err == nil {
		return t, nil
	}
	t, err := ParseNaturalLanguage(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as a time: use +3d, 2025-06-02 18:00, or e.g. \"tomorrow 6pm\"", s)
	}
	return t, nil
}

// ParseAbsolute parses RFC3339, date-time and date-only forms. Values
// without an offset are taken in loc.
func ParseAbsolute(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("not an absolute time: %q", s)
}

// IsDateOnly reports whether s is a bare YYYY-MM-DD date. Callers treating
// a due date as "by the end of that day" use it to pick the day's end.
func IsDateOnly(s string) bool {
	_, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	return err == nil
}

// EndOfDay returns the last second of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
