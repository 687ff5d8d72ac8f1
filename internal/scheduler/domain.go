package scheduler

import (
	"slices"
	"strings"
	"time"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/types"
)

// Candidate is one concrete placement option for a component.
type Candidate struct {
	PrinterID string    `json:"printer_id"`
	GcodeID   string    `json:"gcode_id"`
	Start     time.Time `json:"start"`
	Finish    time.Time `json:"finish"`
}

// Clashes reports whether c and o occupy the same printer at the same time.
// Intervals are half-open, so touching endpoints do not clash.
func (c Candidate) Clashes(o Candidate) bool {
	return c.PrinterID == o.PrinterID && c.Start.Before(o.Finish) && o.Start.Before(c.Finish)
}

func compareCandidates(a, b Candidate) int {
	if c := strings.Compare(a.PrinterID, b.PrinterID); c != 0 {
		return c
	}
	if c := strings.Compare(a.GcodeID, b.GcodeID); c != 0 {
		return c
	}
	return a.Start.Compare(b.Start)
}

// Catalog is the read-only fleet view a domain is built from. Busy holds the
// active entries, keyed by printer, that the current request must not touch.
type Catalog struct {
	Printers []*types.Printer
	Gcodes   map[string][]*types.Gcode
	Busy     map[string][]*types.ScheduleEntry
}

// Horizon bounds candidate enumeration in time.
type Horizon struct {
	Now      time.Time
	Due      time.Time
	Step     time.Duration
	Span     time.Duration
	Location *time.Location
}

// limit is the latest instant a candidate may finish.
func (h Horizon) limit() time.Time {
	if h.Span > 0 {
		if end := h.Now.Add(h.Span); end.Before(h.Due) {
			return end
		}
	}
	return h.Due
}

func (h Horizon) loc() *time.Location {
	if h.Location == nil {
		return time.Local
	}
	return h.Location
}

// BuildDomain enumerates every candidate for c. Printers missing from online
// are treated as unreachable. The result is ordered by printer ID, gcode ID
// and start time; an empty result is not an error.
func BuildDomain(c *types.Component, cat *Catalog, online map[string]bool, h Horizon) []Candidate {
	material := types.NormalizeMaterial(c.Material)
	var allowed map[string]bool
	if len(c.AllowedGcodes) > 0 {
		allowed = make(map[string]bool, len(c.AllowedGcodes))
		for _, id := range c.AllowedGcodes {
			allowed[id] = true
		}
	}

	var out []Candidate
	for _, p := range cat.Printers {
		if !p.Supports(material) || !online[p.ID] {
			continue
		}
		for _, g := range cat.Gcodes[p.ID] {
			if types.NormalizeMaterial(g.Material) != material {
				continue
			}
			if allowed != nil && !allowed[g.ID] {
				continue
			}
			if g.EstimatedDuration <= 0 {
				debug.Logf("scheduler: skipping gcode %s with non-positive duration %s\n", g.ID, g.EstimatedDuration)
				continue
			}
			out = appendStarts(out, p, g, cat.Busy[p.ID], h)
		}
	}
	slices.SortStableFunc(out, compareCandidates)
	return out
}

// appendStarts adds the grid-aligned starts of g on p that finish inside the
// printer's window on some day, before the limit, and clear of busy.
func appendStarts(out []Candidate, p *types.Printer, g *types.Gcode, busy []*types.ScheduleEntry, h Horizon) []Candidate {
	if h.Step <= 0 {
		return out
	}
	loc := h.loc()
	limit := h.limit()
	dur := g.EstimatedDuration

	emit := func(from, latest time.Time) {
		first := from
		if first.Before(h.Now) {
			n := (h.Now.Sub(first) + h.Step - 1) / h.Step
			first = first.Add(n * h.Step)
		}
		for t := first; !t.After(latest); t = t.Add(h.Step) {
			cand := Candidate{PrinterID: p.ID, GcodeID: g.ID, Start: t, Finish: t.Add(dur)}
			if !occupied(busy, cand) {
				out = append(out, cand)
			}
		}
	}

	midnight := types.TimeOfDay(0).On(h.Now, loc)
	if p.Window == nil {
		emit(midnight, limit.Add(-dur))
		return out
	}
	for day := midnight; day.Before(limit); day = nextDay(day, loc) {
		start := p.Window.Start.On(day, loc)
		end := p.Window.End.On(day, loc)
		if limit.Before(end) {
			end = limit
		}
		latest := end.Add(-dur)
		if latest.Before(start) {
			continue
		}
		emit(start, latest)
	}
	return out
}

func nextDay(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
}

func occupied(busy []*types.ScheduleEntry, c Candidate) bool {
	for _, e := range busy {
		if e.Overlaps(c.Start, c.Finish) {
			return true
		}
	}
	return false
}
