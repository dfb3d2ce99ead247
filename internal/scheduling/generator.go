package scheduling

import (
	"fmt"
	"math"
	"time"
)

// Slots open at 09:00 regardless of config.
const openingMinute = 9 * 60

// SlotTime is one (date, time) pair emitted by GenerateSlots.
type SlotTime struct {
	Date time.Time
	Time string
}

// GenerateSlots expands a config into concrete slot times. Pure: same
// input, same output; persistence dedupes on (config, date, time) so
// re-running it against an existing config is a no-op.
//
// Slots-per-day approximates business days per period: ceil(target/5) for
// weekly, ceil(target/20) for monthly. The requested total is advisory
// density, not an exact count to hit across irregular ranges.
func GenerateSlots(cfg Config) []SlotTime {
	perDay := slotsPerDay(cfg.Cadence, cfg.SlotsPerPeriod)
	if perDay <= 0 {
		return nil
	}

	cutoff, err := parseMinute(cfg.DailyEndTime)
	if err != nil || cutoff <= openingMinute {
		return nil
	}

	start := dateOnly(cfg.StartDate)
	end := windowEnd(start, cfg.Cadence, cfg.EndDate)

	availableMinutes := cutoff - openingMinute
	step := float64(availableMinutes) / float64(perDay)

	var out []SlotTime
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if cfg.ExcludeWeekends && isWeekend(d) {
			continue
		}
		for i := 0; i < perDay; i++ {
			m := openingMinute + int(math.Floor(float64(i)*step))
			out = append(out, SlotTime{Date: d, Time: minuteToClock(m)})
		}
	}
	return out
}

func slotsPerDay(cadence string, target int) int {
	if target <= 0 {
		return 0
	}
	switch cadence {
	case CadenceMonthly:
		return (target + 19) / 20
	default:
		return (target + 4) / 5
	}
}

// windowEnd returns the inclusive last date of the generation window:
// the explicit end date when present, otherwise 7 calendar days for weekly
// and 30 for monthly counting the start date itself.
func windowEnd(start time.Time, cadence string, endDate *time.Time) time.Time {
	if endDate != nil {
		return dateOnly(*endDate)
	}
	if cadence == CadenceMonthly {
		return start.AddDate(0, 0, 29)
	}
	return start.AddDate(0, 0, 6)
}

func isWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// parseMinute converts "HH:MM" into minutes since midnight.
func parseMinute(clock string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", clock, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", clock)
	}
	return h*60 + m, nil
}

func minuteToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
