package query

import (
	"strings"
	"testing"
	"time"
)

func TestPreviewRequiresStart(t *testing.T) {
	if got := Preview(Params{ICAO24: "abc"}, Flights); got != "# Error: Start time is required" {
		t.Errorf("unexpected preview %q", got)
	}
}

func TestPreviewMethodPerType(t *testing.T) {
	p := Params{Start: "2025-01-01 00:00:00", ICAO24: "3c6444", Limit: intPtr(50)}
	tests := map[Type]string{
		Flights:    "trino.flightlist(",
		Trajectory: "trino.history(",
		RawData:    "trino.rawdata(",
	}
	for ty, want := range tests {
		got := Preview(p, ty)
		if !strings.Contains(got, want) {
			t.Errorf("%s: expected %q in\n%s", ty, want, got)
		}
		if !strings.Contains(got, `icao24="3c6444",`) || !strings.Contains(got, "limit=50,") {
			t.Errorf("%s: missing arguments in\n%s", ty, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(Params{DepartureAirport: "EDDF", Start: "2025-01-01", Stop: "2025-01-02"})
	want := "Looking for departing from EDDF from 2025-01-01 to 2025-01-02."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := Describe(Params{Start: "2025-01-01"}); got != "Looking for all flights starting from 2025-01-01." {
		t.Errorf("unexpected %q", got)
	}
	if got := Describe(Params{}); got != "I'll search for flights with those parameters." {
		t.Errorf("unexpected %q", got)
	}
}

func TestPreset(t *testing.T) {
	// Wednesday
	now := time.Date(2025, 3, 12, 14, 37, 21, 0, time.Local)

	tests := []struct {
		name        string
		start, stop string
	}{
		{PresetLastHour, "2025-03-12 13:00:00", "2025-03-12 14:00:00"},
		{PresetYesterday, "2025-03-11 00:00:00", "2025-03-12 00:00:00"},
		{PresetLastWeek, "2025-03-03 00:00:00", "2025-03-09 23:59:59"},
	}
	for _, tt := range tests {
		var p Params
		if err := p.ApplyPreset(tt.name, now); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if p.Start != tt.start || p.Stop != tt.stop {
			t.Errorf("%s: got %s..%s, want %s..%s", tt.name, p.Start, p.Stop, tt.start, tt.stop)
		}
	}

	if _, _, err := Preset("next_year", now); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestPresetLastWeekOnMonday(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	start, stop, err := Preset(PresetLastWeek, now)
	if err != nil {
		t.Fatal(err)
	}
	if got := start.Format(TimeLayout); got != "2025-03-03 00:00:00" {
		t.Errorf("start = %s", got)
	}
	if got := stop.Format(TimeLayout); got != "2025-03-09 23:59:59" {
		t.Errorf("stop = %s", got)
	}
}
