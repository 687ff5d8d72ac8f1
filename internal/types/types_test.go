package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPrinterValidate(t *testing.T) {
	tests := []struct {
		name    string
		printer Printer
		wantErr bool
	}{
		{"valid", Printer{Name: "voron", Materials: []string{"PLA"}}, false},
		{"no window is always available", Printer{Name: "voron"}, false},
		{"missing name", Printer{Name: "  "}, true},
		{"bad port", Printer{Name: "voron", Port: 70000}, true},
		{"inverted window", Printer{Name: "voron", Window: &Window{Start: NewTimeOfDay(22, 0), End: NewTimeOfDay(10, 0)}}, true},
		{"empty window", Printer{Name: "voron", Window: &Window{Start: NewTimeOfDay(10, 0), End: NewTimeOfDay(10, 0)}}, true},
		{"bad status", Printer{Name: "voron", Status: "busy"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.printer.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrinterSupports(t *testing.T) {
	p := &Printer{Name: "p", Materials: []string{" pla", "PETG", "pla"}}
	p.SetDefaults()

	if len(p.Materials) != 2 {
		t.Fatalf("Materials = %v, want deduplicated PETG, PLA", p.Materials)
	}
	if !p.Supports("PLA") || !p.Supports("petg ") {
		t.Errorf("Supports should match case-insensitively: %v", p.Materials)
	}
	if p.Supports("ABS") {
		t.Error("Supports(ABS) = true, want false")
	}
	if p.Status != PrinterUnknown {
		t.Errorf("Status = %q, want unknown", p.Status)
	}
}

func TestGcodeValidate(t *testing.T) {
	neg := -time.Minute
	tests := []struct {
		name    string
		gcode   Gcode
		wantErr bool
	}{
		{"valid", Gcode{PrinterID: "p", Name: "bracket", Material: "PLA", EstimatedDuration: time.Hour}, false},
		{"zero duration", Gcode{PrinterID: "p", Name: "bracket", Material: "PLA"}, true},
		{"sub-second duration", Gcode{PrinterID: "p", Name: "bracket", Material: "PLA", EstimatedDuration: 500 * time.Millisecond}, true},
		{"one second", Gcode{PrinterID: "p", Name: "bracket", Material: "PLA", EstimatedDuration: time.Second}, false},
		{"no material", Gcode{PrinterID: "p", Name: "bracket", EstimatedDuration: time.Hour}, true},
		{"no printer", Gcode{Name: "bracket", Material: "PLA", EstimatedDuration: time.Hour}, true},
		{"negative history", Gcode{PrinterID: "p", Name: "b", Material: "PLA", EstimatedDuration: time.Hour, HistoricalDuration: &neg}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.gcode.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEntryTransitions(t *testing.T) {
	tests := []struct {
		from, to EntryStatus
		ok       bool
	}{
		{EntryPending, EntryScheduled, true},
		{EntryScheduled, EntryInProgress, true},
		{EntryScheduled, EntryFailed, true},
		{EntryInProgress, EntryCompleted, true},
		{EntryInProgress, EntryFailed, true},
		{EntryCompleted, EntryScheduled, false},
		{EntryFailed, EntryInProgress, false},
		{EntryPending, EntryCompleted, false},
		{EntryScheduled, EntryPending, false},
		{EntryScheduled, "paused", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("CheckTransition() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("CheckTransition() = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestEntryStatusClasses(t *testing.T) {
	for _, s := range []EntryStatus{EntryPending, EntryScheduled, EntryInProgress} {
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range []EntryStatus{EntryCompleted, EntryFailed} {
		if s.IsActive() {
			t.Errorf("%s should not be active", s)
		}
	}
	if !EntryInProgress.IsPinned() || !EntryCompleted.IsPinned() || EntryScheduled.IsPinned() {
		t.Error("only in-progress and completed entries are pinned")
	}
}

func TestEntryOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &ScheduleEntry{Start: base, Finish: base.Add(time.Hour)}

	if e.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)) {
		t.Error("back-to-back intervals must not overlap")
	}
	if e.Overlaps(base.Add(-time.Hour), base) {
		t.Error("interval ending at start must not overlap")
	}
	if !e.Overlaps(base.Add(59*time.Minute), base.Add(2*time.Hour)) {
		t.Error("intervals sharing a minute must overlap")
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("10:00-22:00")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	if w.Start != NewTimeOfDay(10, 0) || w.End != NewTimeOfDay(22, 0) {
		t.Errorf("got %s", w)
	}
	if w.Length() != 12*time.Hour {
		t.Errorf("Length() = %s", w.Length())
	}

	for _, bad := range []string{"22:00-10:00", "10:00", "25:00-26:00", "10:60-11:00", "aa:bb-cc:dd"} {
		if _, err := ParseWindow(bad); err == nil {
			t.Errorf("ParseWindow(%q) succeeded, want error", bad)
		}
	}

	end, err := ParseWindow("18:00-24:00")
	if err != nil {
		t.Fatalf("end-of-day window: %v", err)
	}
	day := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	if got := end.End.On(day, time.UTC); !got.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("24:00 resolves to %s", got)
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	w := Window{Start: NewTimeOfDay(8, 30), End: NewTimeOfDay(17, 0)}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"start":"08:30","end":"17:00"}` {
		t.Errorf("Marshal = %s", data)
	}
	var back Window
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != w {
		t.Errorf("round trip = %+v", back)
	}
}
