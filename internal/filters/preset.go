package filters

import (
	"errors"
	"time"
)

// Preset names a date range relative to today.
type Preset string

// Supported presets.
const (
	Preset7Days    Preset = "7days"
	Preset30Days   Preset = "30days"
	Preset90Days   Preset = "90days"
	Preset12Months Preset = "12months"
)

// ErrUnknownPreset is returned for preset names outside the supported set.
var ErrUnknownPreset = errors.New("filters: unknown preset")

var presetLabels = map[Preset]string{
	Preset7Days:    "Last 7 Days",
	Preset30Days:   "Last 30 Days",
	Preset90Days:   "Last 90 Days",
	Preset12Months: "Last 12 Months",
}

// Presets lists the presets in display order.
func Presets() []Preset {
	return []Preset{Preset7Days, Preset30Days, Preset90Days, Preset12Months}
}

// ParsePreset validates a preset name.
func ParsePreset(name string) (Preset, error) {
	p := Preset(name)
	if _, ok := presetLabels[p]; !ok {
		return "", ErrUnknownPreset
	}
	return p, nil
}

// Label returns the display label for p.
func (p Preset) Label() string {
	return presetLabels[p]
}

// PresetRange computes [today - N, today] for p. The calendar date of today is taken in its
// own location.
func PresetRange(p Preset, today time.Time) (DateRange, error) {
	y, m, d := today.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	var start time.Time
	switch p {
	case Preset7Days:
		start = end.AddDate(0, 0, -7)
	case Preset30Days:
		start = end.AddDate(0, 0, -30)
	case Preset90Days:
		start = end.AddDate(0, 0, -90)
	case Preset12Months:
		start = subMonths(end, 12)
	default:
		return DateRange{}, ErrUnknownPreset
	}
	return DateRange{Start: start.Format(DateLayout), End: end.Format(DateLayout)}, nil
}

// subMonths moves t back n calendar months, clamping the day to the length of the target
// month (Mar 31 - 1 month is Feb 28/29, not Mar 2/3 as AddDate would produce).
func subMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
