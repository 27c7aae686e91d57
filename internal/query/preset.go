package query

import (
	"fmt"
	"time"
)

// Preset names accepted by ApplyPreset.
const (
	PresetLastHour  = "last_hour"
	PresetYesterday = "yesterday"
	PresetLastWeek  = "last_week"
)

// Presets lists the supported quick time ranges.
var Presets = []string{PresetLastHour, PresetYesterday, PresetLastWeek}

// Preset computes the start and stop of a named time range relative to now,
// in now's location. Unknown names yield an error.
func Preset(name string, now time.Time) (start, stop time.Time, err error) {
	y, m, d := now.Date()
	loc := now.Location()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch name {
	case PresetLastHour:
		stop = time.Date(y, m, d, now.Hour(), 0, 0, 0, loc)
		start = stop.Add(-time.Hour)
	case PresetYesterday:
		start = midnight.AddDate(0, 0, -1)
		stop = midnight
	case PresetLastWeek:
		sinceMonday := (int(now.Weekday()) + 6) % 7
		start = midnight.AddDate(0, 0, -(sinceMonday + 7))
		sunday := start.AddDate(0, 0, 6)
		stop = time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 23, 59, 59, 0, loc)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown preset: %s", name)
	}
	return start, stop, nil
}

// ApplyPreset sets p.Start and p.Stop from a named preset.
func (p *Params) ApplyPreset(name string, now time.Time) error {
	start, stop, err := Preset(name, now)
	if err != nil {
		return err
	}
	p.Start = start.Format(TimeLayout)
	p.Stop = stop.Format(TimeLayout)
	return nil
}
