package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// compactDurationRe matches compact offsets: [+-]?(\d+)([mhdw])
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([mhdw])$`)

// ParseCompactDuration applies a compact offset to now.
//
// Units: m minutes, h hours, d days, w weeks. Days and weeks are calendar
// days, so "+1d" keeps the wall-clock time across a DST change.
//
// Examples:
//   - "+6h" -> now + 6 hours
//   - "-1d" -> now - 1 day
//   - "90m" -> now + 90 minutes (no sign = positive)
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] == "-" {
		amount = -amount
	}
	switch m[3] {
	case "m":
		return now.Add(time.Duration(amount) * time.Minute), nil
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, amount), nil
	default:
		return now.AddDate(0, 0, amount*7), nil
	}
}

// IsCompactDuration returns true if the string matches compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

var (
	clockDurationRe  = regexp.MustCompile(`^(\d+):([0-5]\d)(?::([0-5]\d))?$`)
	spacedDurationRe = regexp.MustCompile(`^(?:(\d+)\s*d)?\s*(?:(\d+)\s*h)?\s*(?:(\d+)\s*m)?\s*(?:(\d+)\s*s)?$`)
)

// ParsePrintDuration parses an estimated print time. Accepted forms are Go
// durations ("1h30m"), clock notation ("1:30", "12:05:30") as printed by
// slicers, spaced units ("1d 2h 5m"), and bare minutes ("95").
// The result must be positive.
func ParsePrintDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	d, err := parsePrintDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("print duration must be positive (got %q)", s)
	}
	return d, nil
}

func parsePrintDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if m := clockDurationRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs := 0
		if m[3] != "" {
			secs, _ = strconv.Atoi(m[3])
		}
		return time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second, nil
	}
	if m := spacedDurationRe.FindStringSubmatch(s); m != nil && strings.ContainsAny(s, "0123456789") {
		units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
		var total time.Duration
		for i, u := range units {
			if m[i+1] == "" {
				continue
			}
			n, _ := strconv.Atoi(m[i+1])
			total += time.Duration(n) * u
		}
		return total, nil
	}
	return 0, fmt.Errorf("invalid print duration %q: use 1h30m, 1:30 or 90", s)
}
