package scheduler

import (
	"slices"
	"testing"
	"time"

	"github.com/printfleet/printfleet/internal/types"
)

func window(start, end int) *types.Window {
	return &types.Window{Start: types.NewTimeOfDay(start, 0), End: types.NewTimeOfDay(end, 0)}
}

func simpleCatalog(pr *types.Printer, gcodes ...*types.Gcode) *Catalog {
	return &Catalog{
		Printers: []*types.Printer{pr},
		Gcodes:   map[string][]*types.Gcode{pr.ID: gcodes},
		Busy:     map[string][]*types.ScheduleEntry{},
	}
}

func TestBuildDomainWindow(t *testing.T) {
	pr := &types.Printer{ID: "pr-a", Window: window(10, 22), Materials: []string{"PLA"}}
	g := &types.Gcode{ID: "gc-a", PrinterID: pr.ID, Material: "PLA", EstimatedDuration: time.Hour}
	c := &types.Component{ID: "cm-a", Material: "pla"}
	online := map[string]bool{pr.ID: true}

	tests := []struct {
		name        string
		now, due    time.Time
		first, last time.Time
		count       int
	}{
		{"due inside window", day, at(20, 0), at(10, 0), at(19, 0), 109},
		{"window end bounds", day, at(23, 0), at(10, 0), at(21, 0), 133},
		{"now mid window rounds up to grid", at(10, 2), at(20, 0), at(10, 5), at(19, 0), 108},
		{"latest start equal to window start", day, at(11, 0), at(10, 0), at(10, 0), 1},
		{"due before window", day, at(10, 30), time.Time{}, time.Time{}, 0},
		{"due passed", at(21, 0), at(20, 0), time.Time{}, time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDomain(c, simpleCatalog(pr, g), online, Horizon{Now: tt.now, Due: tt.due, Step: 5 * time.Minute, Location: time.UTC})
			if len(got) != tt.count {
				t.Fatalf("got %d candidates, want %d", len(got), tt.count)
			}
			if tt.count == 0 {
				return
			}
			if !got[0].Start.Equal(tt.first) || !got[len(got)-1].Start.Equal(tt.last) {
				t.Errorf("range = %s..%s, want %s..%s", got[0].Start, got[len(got)-1].Start, tt.first, tt.last)
			}
			for _, cand := range got {
				if cand.Finish.Sub(cand.Start) != time.Hour {
					t.Errorf("candidate %+v has wrong duration", cand)
				}
				if cand.Finish.After(tt.due) {
					t.Errorf("candidate %+v finishes after due", cand)
				}
			}
		})
	}
}

func TestBuildDomainSpansDays(t *testing.T) {
	pr := &types.Printer{ID: "pr-a", Window: window(10, 12), Materials: []string{"PLA"}}
	g := &types.Gcode{ID: "gc-a", PrinterID: pr.ID, Material: "PLA", EstimatedDuration: time.Hour}
	c := &types.Component{ID: "cm-a", Material: "PLA"}

	got := BuildDomain(c, simpleCatalog(pr, g), map[string]bool{pr.ID: true},
		Horizon{Now: day, Due: day.Add(2*24*time.Hour + 11*time.Hour), Step: 30 * time.Minute, Location: time.UTC})
	var starts []string
	for _, cand := range got {
		starts = append(starts, cand.Start.Format("02 15:04"))
	}
	want := []string{"02 10:00", "02 10:30", "02 11:00", "03 10:00", "03 10:30", "03 11:00", "04 10:00"}
	if !slices.Equal(starts, want) {
		t.Errorf("starts = %v, want %v", starts, want)
	}
}

func TestBuildDomainHorizon(t *testing.T) {
	pr := &types.Printer{ID: "pr-a", Materials: []string{"PLA"}}
	g := &types.Gcode{ID: "gc-a", PrinterID: pr.ID, Material: "PLA", EstimatedDuration: 2 * time.Hour}
	c := &types.Component{ID: "cm-a", Material: "PLA"}

	got := BuildDomain(c, simpleCatalog(pr, g), map[string]bool{pr.ID: true},
		Horizon{Now: at(1, 0), Due: day.Add(72 * time.Hour), Step: time.Hour, Span: 24 * time.Hour, Location: time.UTC})
	if len(got) == 0 {
		t.Fatal("always-available printer should have candidates")
	}
	if !got[0].Start.Equal(at(1, 0)) {
		t.Errorf("first start = %s, want 01:00", got[0].Start)
	}
	limit := at(1, 0).Add(24 * time.Hour)
	if last := got[len(got)-1]; !last.Finish.Equal(limit) {
		t.Errorf("last finish = %s, want %s", last.Finish, limit)
	}
}

func TestBuildDomainTimezone(t *testing.T) {
	plus2 := time.FixedZone("UTC+2", 2*3600)
	pr := &types.Printer{ID: "pr-a", Window: window(10, 22), Materials: []string{"PLA"}}
	g := &types.Gcode{ID: "gc-a", PrinterID: pr.ID, Material: "PLA", EstimatedDuration: time.Hour}
	c := &types.Component{ID: "cm-a", Material: "PLA"}

	got := BuildDomain(c, simpleCatalog(pr, g), map[string]bool{pr.ID: true},
		Horizon{Now: day, Due: at(23, 0), Step: 5 * time.Minute, Location: plus2})
	if len(got) != 133 {
		t.Fatalf("got %d candidates, want 133", len(got))
	}
	if !got[0].Start.Equal(at(8, 0)) || !got[len(got)-1].Start.Equal(at(19, 0)) {
		t.Errorf("range = %s..%s, want 08:00..19:00 UTC", got[0].Start.UTC(), got[len(got)-1].Start.UTC())
	}
}

func TestBuildDomainFilters(t *testing.T) {
	a := &types.Printer{ID: "pr-a", Window: window(10, 12), Materials: []string{"PLA", "PETG"}}
	b := &types.Printer{ID: "pr-b", Window: window(10, 12), Materials: []string{"PLA"}}
	off := &types.Printer{ID: "pr-c", Window: window(10, 12), Materials: []string{"PLA"}}
	cat := &Catalog{
		Printers: []*types.Printer{b, a, off},
		Gcodes: map[string][]*types.Gcode{
			"pr-a": {
				{ID: "gc-a2", PrinterID: "pr-a", Material: "PLA", EstimatedDuration: time.Hour},
				{ID: "gc-a1", PrinterID: "pr-a", Material: "PLA", EstimatedDuration: time.Hour},
				{ID: "gc-a3", PrinterID: "pr-a", Material: "PETG", EstimatedDuration: time.Hour},
				{ID: "gc-a4", PrinterID: "pr-a", Material: "PLA", EstimatedDuration: 0},
			},
			"pr-b": {{ID: "gc-b1", PrinterID: "pr-b", Material: "PLA", EstimatedDuration: time.Hour}},
			"pr-c": {{ID: "gc-c1", PrinterID: "pr-c", Material: "PLA", EstimatedDuration: time.Hour}},
		},
	}
	online := map[string]bool{"pr-a": true, "pr-b": true}
	h := Horizon{Now: day, Due: at(20, 0), Step: 30 * time.Minute, Location: time.UTC}

	pairs := func(cands []Candidate) []string {
		var out []string
		for _, c := range cands {
			k := c.PrinterID + "/" + c.GcodeID
			if len(out) == 0 || out[len(out)-1] != k {
				out = append(out, k)
			}
		}
		return out
	}

	got := BuildDomain(&types.Component{ID: "cm-1", Material: "PLA"}, cat, online, h)
	if !slices.IsSortedFunc(got, compareCandidates) {
		t.Error("candidates not in printer, gcode, start order")
	}
	if want := []string{"pr-a/gc-a1", "pr-a/gc-a2", "pr-b/gc-b1"}; !slices.Equal(pairs(got), want) {
		t.Errorf("pairs = %v, want %v", pairs(got), want)
	}

	got = BuildDomain(&types.Component{ID: "cm-2", Material: "PLA", AllowedGcodes: []string{"gc-a2", "gc-a3", "gc-c1"}}, cat, online, h)
	if want := []string{"pr-a/gc-a2"}; !slices.Equal(pairs(got), want) {
		t.Errorf("allowed set should intersect, got %v", pairs(got))
	}

	if got := BuildDomain(&types.Component{ID: "cm-3", Material: "ABS"}, cat, online, h); len(got) != 0 {
		t.Errorf("unsupported material produced %d candidates", len(got))
	}
}

func TestBuildDomainSkipsBusy(t *testing.T) {
	pr := &types.Printer{ID: "pr-a", Window: window(10, 22), Materials: []string{"PLA"}}
	g := &types.Gcode{ID: "gc-a", PrinterID: pr.ID, Material: "PLA", EstimatedDuration: time.Hour}
	cat := simpleCatalog(pr, g)
	cat.Busy[pr.ID] = []*types.ScheduleEntry{{ID: "en-x", PrinterID: pr.ID, Start: at(12, 0), Finish: at(13, 0)}}

	got := BuildDomain(&types.Component{ID: "cm-a", Material: "PLA"}, cat, map[string]bool{pr.ID: true},
		Horizon{Now: day, Due: at(20, 0), Step: 5 * time.Minute, Location: time.UTC})
	if len(got) != 109-23 {
		t.Fatalf("got %d candidates, want %d", len(got), 109-23)
	}
	for _, c := range got {
		if c.Start.After(at(11, 0)) && c.Start.Before(at(13, 0)) {
			t.Errorf("candidate %s overlaps the busy interval", c.Start.Format("15:04"))
		}
	}
}

func TestCandidateClashes(t *testing.T) {
	a := Candidate{PrinterID: "p", Start: at(10, 0), Finish: at(11, 0)}
	tests := []struct {
		name string
		b    Candidate
		want bool
	}{
		{"touching after", Candidate{PrinterID: "p", Start: at(11, 0), Finish: at(12, 0)}, false},
		{"touching before", Candidate{PrinterID: "p", Start: at(9, 0), Finish: at(10, 0)}, false},
		{"overlap", Candidate{PrinterID: "p", Start: at(10, 59), Finish: at(12, 0)}, true},
		{"contained", Candidate{PrinterID: "p", Start: at(10, 15), Finish: at(10, 30)}, true},
		{"other printer", Candidate{PrinterID: "q", Start: at(10, 0), Finish: at(11, 0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Clashes(tt.b); got != tt.want {
				t.Errorf("Clashes = %v, want %v", got, tt.want)
			}
			if got := tt.b.Clashes(a); got != tt.want {
				t.Errorf("Clashes is not symmetric")
			}
		})
	}
}
