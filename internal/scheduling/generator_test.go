package scheduling

import (
	"reflect"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerateSlots(t *testing.T) {
	t.Run("weekly window excluding weekends", func(t *testing.T) {
		// 2024-01-01 is a Monday.
		start := date(2024, time.January, 1)
		if start.Weekday() != time.Monday {
			t.Fatalf("fixture start date is %s, want Monday", start.Weekday())
		}

		cfg := Config{
			Cadence:         CadenceWeekly,
			SlotsPerPeriod:  50,
			StartDate:       start,
			DailyEndTime:    "14:00",
			ExcludeWeekends: true,
		}
		slots := GenerateSlots(cfg)

		// 5 business days x ceil(50/5) slots per day.
		if len(slots) != 50 {
			t.Fatalf("got %d slots, want 50", len(slots))
		}
		if slots[0].Date != start || slots[0].Time != "09:00" {
			t.Errorf("first slot = %s %s, want %s 09:00", slots[0].Date.Format("2006-01-02"), slots[0].Time, start.Format("2006-01-02"))
		}

		perDay := map[string]int{}
		for _, s := range slots {
			if wd := s.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				t.Errorf("slot on weekend: %s", s.Date.Format("2006-01-02"))
			}
			if s.Time < "09:00" || s.Time >= "14:00" {
				t.Errorf("slot time %s outside [09:00, 14:00)", s.Time)
			}
			perDay[s.Date.Format("2006-01-02")]++
		}
		for d, n := range perDay {
			if n != 10 {
				t.Errorf("day %s has %d slots, want 10", d, n)
			}
		}

		// 300 available minutes over 10 slots: 30-minute spacing.
		if slots[1].Time != "09:30" {
			t.Errorf("second slot time = %s, want 09:30", slots[1].Time)
		}
		if last := slots[9].Time; last != "13:30" {
			t.Errorf("last slot of first day = %s, want 13:30", last)
		}
	})

	t.Run("weekends kept when flag unset", func(t *testing.T) {
		cfg := Config{
			Cadence:        CadenceWeekly,
			SlotsPerPeriod: 50,
			StartDate:      date(2024, time.January, 1),
			DailyEndTime:   "14:00",
		}
		if n := len(GenerateSlots(cfg)); n != 70 {
			t.Fatalf("got %d slots, want 70 (7 days x 10)", n)
		}
	})

	t.Run("monthly window uses 30 days and ceil(target/20)", func(t *testing.T) {
		cfg := Config{
			Cadence:        CadenceMonthly,
			SlotsPerPeriod: 30, // ceil(30/20) = 2 per day
			StartDate:      date(2024, time.January, 1),
			DailyEndTime:   "12:00",
		}
		slots := GenerateSlots(cfg)
		if len(slots) != 60 {
			t.Fatalf("got %d slots, want 60 (30 days x 2)", len(slots))
		}
		if lastDate := slots[len(slots)-1].Date; lastDate != date(2024, time.January, 30) {
			t.Errorf("last date = %s, want 2024-01-30", lastDate.Format("2006-01-02"))
		}
	})

	t.Run("explicit end date bounds the window", func(t *testing.T) {
		end := date(2024, time.January, 3)
		cfg := Config{
			Cadence:        CadenceWeekly,
			SlotsPerPeriod: 20, // 4 per day
			StartDate:      date(2024, time.January, 1),
			EndDate:        &end,
			DailyEndTime:   "13:00",
		}
		if n := len(GenerateSlots(cfg)); n != 12 {
			t.Fatalf("got %d slots, want 12 (3 days x 4)", n)
		}
	})

	t.Run("empty results are not errors", func(t *testing.T) {
		base := Config{
			Cadence:        CadenceWeekly,
			SlotsPerPeriod: 20,
			StartDate:      date(2024, time.January, 1),
			DailyEndTime:   "14:00",
		}

		cases := map[string]func(Config) Config{
			"zero target": func(c Config) Config {
				c.SlotsPerPeriod = 0
				return c
			},
			"cutoff at opening": func(c Config) Config {
				c.DailyEndTime = "09:00"
				return c
			},
			"cutoff before opening": func(c Config) Config {
				c.DailyEndTime = "08:00"
				return c
			},
			"unparseable cutoff": func(c Config) Config {
				c.DailyEndTime = "noon"
				return c
			},
			"weekend-only range": func(c Config) Config {
				c.StartDate = date(2024, time.January, 6) // Saturday
				end := date(2024, time.January, 7)
				c.EndDate = &end
				c.ExcludeWeekends = true
				return c
			},
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				if slots := GenerateSlots(mutate(base)); len(slots) != 0 {
					t.Fatalf("got %d slots, want 0", len(slots))
				}
			})
		}
	})

	t.Run("deterministic for identical input", func(t *testing.T) {
		cfg := Config{
			Cadence:         CadenceWeekly,
			SlotsPerPeriod:  37,
			StartDate:       date(2024, time.February, 5),
			DailyEndTime:    "15:30",
			ExcludeWeekends: true,
		}
		first := GenerateSlots(cfg)
		second := GenerateSlots(cfg)
		if !reflect.DeepEqual(first, second) {
			t.Fatal("same config produced different slot sets")
		}
	})
}

func TestSlotsPerDay(t *testing.T) {
	cases := []struct {
		cadence string
		target  int
		want    int
	}{
		{CadenceWeekly, 50, 10},
		{CadenceWeekly, 20, 4},
		{CadenceWeekly, 21, 5},
		{CadenceMonthly, 100, 5},
		{CadenceMonthly, 21, 2},
		{CadenceWeekly, 0, 0},
	}
	for _, tc := range cases {
		if got := slotsPerDay(tc.cadence, tc.target); got != tc.want {
			t.Errorf("slotsPerDay(%s, %d) = %d, want %d", tc.cadence, tc.target, got, tc.want)
		}
	}
}
