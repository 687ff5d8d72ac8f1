package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "+6h adds 6 hours", input: "+6h", want: time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)},
		{name: "+1d adds 1 day", input: "+1d", want: time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)},
		{name: "+2w adds 2 weeks", input: "+2w", want: time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC)},
		{name: "90m adds minutes", input: "90m", want: time.Date(2025, 6, 15, 13, 30, 0, 0, time.UTC)},
		{name: "-1d subtracts 1 day", input: "-1d", want: time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)},
		{name: "-6h subtracts 6 hours", input: "-6h", want: time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)},
		{name: "zero is now", input: "+0d", want: now},
		{name: "months are not offsets", input: "+1y", wantErr: true},
		{name: "missing amount", input: "+d", wantErr: true},
		{name: "spaces", input: "+ 1d", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsCompactDuration(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"+6h", true},
		{"-1d", true},
		{"+2w", true},
		{"30m", true},
		{"+24h", true},
		{"", false},
		{"tomorrow", false},
		{"2025-01-15", false},
		{"6h+", false},
		{"++1d", false},
		{"1x", false},
		{"1h30m", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsCompactDuration(tt.input); got != tt.want {
				t.Errorf("IsCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// Calendar-day offsets keep wall-clock time across DST.
func TestParseCompactDuration_DST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("timezone Europe/Berlin not available")
	}
	before := time.Date(2025, 3, 29, 18, 0, 0, 0, loc)
	got, err := ParseCompactDuration("+1d", before)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hour() != 18 || got.Day() != 30 || got.Location() != loc {
		t.Errorf("+1d across DST = %v", got)
	}
	if got.Sub(before) != 23*time.Hour {
		t.Errorf("elapsed = %v, want 23h", got.Sub(before))
	}
}

func TestParsePrintDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "1h30m", want: 90 * time.Minute},
		{input: "45m", want: 45 * time.Minute},
		{input: "90", want: 90 * time.Minute},
		{input: "1:30", want: 90 * time.Minute},
		{input: "12:05:30", want: 12*time.Hour + 5*time.Minute + 30*time.Second},
		{input: "1d 2h 5m", want: 26*time.Hour + 5*time.Minute},
		{input: "2H 10M", want: 2*time.Hour + 10*time.Minute},
		{input: " 3h ", want: 3 * time.Hour},
		{input: "0", wantErr: true},
		{input: "-5m", wantErr: true},
		{input: "1:75", wantErr: true},
		{input: "soon", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePrintDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrintDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePrintDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
