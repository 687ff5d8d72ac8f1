package timeparsing

import (
	"testing"
	"time"
)

// TestParseNaturalLanguage tests the NLP parser wrapper.
func TestParseNaturalLanguage(t *testing.T) {
	// Wednesday, January 15, 2025, 10:00
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name     string
		input    string
		wantDay  int
		wantHour int // -1 means don't check hour
		wantErr  bool
	}{
		{name: "tomorrow", input: "tomorrow", wantDay: 16, wantHour: -1},
		{name: "next monday", input: "next monday", wantDay: 20, wantHour: -1},
		{name: "tomorrow at 9am", input: "tomorrow at 9am", wantDay: 16, wantHour: 9},
		{name: "next monday at 2pm", input: "next monday at 2pm", wantDay: 20, wantHour: 14},
		{name: "in 3 days", input: "in 3 days", wantDay: 18, wantHour: -1},
		{name: "in 1 week", input: "in 1 week", wantDay: 22, wantHour: -1},
		{name: "gibberish", input: "xyzzy plugh", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNaturalLanguage(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Year() != 2025 || got.Month() != time.January || got.Day() != tt.wantDay {
				t.Errorf("ParseNaturalLanguage(%q) = %v, want Jan %d", tt.input, got, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("ParseNaturalLanguage(%q) hour = %d, want %d", tt.input, got.Hour(), tt.wantHour)
			}
		})
	}
}

func TestParseRelativeTime(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "compact wins", input: "+1d", want: now.AddDate(0, 0, 1)},
		{name: "RFC3339", input: "2025-03-15T14:30:00Z", want: time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)},
		{name: "RFC3339 with offset", input: "2025-03-15T14:30:00+02:00", want: time.Date(2025, 3, 15, 12, 30, 0, 0, time.UTC)},
		{name: "date time", input: "2025-02-01 18:00", want: time.Date(2025, 2, 1, 18, 0, 0, 0, time.UTC)},
		{name: "date T time", input: "2025-02-01T18:00", want: time.Date(2025, 2, 1, 18, 0, 0, 0, time.UTC)},
		{name: "date only", input: "2025-02-01", want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{name: "invalid", input: "xyzzy", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelativeTime(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRelativeTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseRelativeTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAbsoluteUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	got, err := ParseAbsolute("2025-06-02 18:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}
}

func TestDateOnlyAndEndOfDay(t *testing.T) {
	if !IsDateOnly("2025-06-02") || IsDateOnly("2025-06-02 10:00") || IsDateOnly("tomorrow") {
		t.Error("IsDateOnly misclassifies")
	}
	loc := time.FixedZone("X", -5*3600)
	got := EndOfDay(time.Date(2025, 6, 2, 3, 0, 0, 0, loc))
	want := time.Date(2025, 6, 2, 23, 59, 59, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Errorf("EndOfDay = %v, want %v", got, want)
	}
}
