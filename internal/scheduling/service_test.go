package scheduling

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"
)

// fixedNow keeps "today" stable so generated slots are never in the past.
var fixedNow = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	store    *MemoryStore
	configs  *ConfigService
	bookings *BookingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := NewMemoryStore()
	bs := NewBookingService(ms)
	bs.now = func() time.Time { return fixedNow }
	return &testEnv{store: ms, configs: NewConfigService(ms), bookings: bs}
}

func validInput() ConfigInput {
	return ConfigInput{
		Title:           "New student ID cards",
		Cadence:         CadenceWeekly,
		SlotsPerPeriod:  50,
		StartDate:       "2024-01-01",
		DailyEndTime:    "14:00",
		ExcludeWeekends: true,
	}
}

func (e *testEnv) createConfig(t *testing.T) Config {
	t.Helper()
	cfg, n, err := e.configs.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create config: %v", err)
	}
	if n != 50 {
		t.Fatalf("created %d slots, want 50", n)
	}
	return cfg
}

func (e *testEnv) addStudent(t *testing.T, configID, externalID, code string) Student {
	t.Helper()
	n, err := e.store.InsertStudents(context.Background(), []Student{{
		ConfigID:   configID,
		ExternalID: externalID,
		FullName:   "Test Student " + externalID,
		Email:      externalID + "@example.edu",
		LoginCode:  code,
	}})
	if err != nil || n != 1 {
		t.Fatalf("insert student: n=%d err=%v", n, err)
	}
	st, err := e.store.StudentByCredentials(context.Background(), configID, externalID, code)
	if err != nil {
		t.Fatalf("read back student: %v", err)
	}
	return st
}

func (e *testEnv) firstSlot(t *testing.T, configID string) Slot {
	t.Helper()
	days, err := e.bookings.ListAvailable(context.Background(), configID)
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(days) == 0 || len(days[0].Slots) == 0 {
		t.Fatal("no available slots")
	}
	return days[0].Slots[0]
}

func TestCreateConfigValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]func(ConfigInput) ConfigInput{
		"empty title":           func(in ConfigInput) ConfigInput { in.Title = "  "; return in },
		"unknown cadence":       func(in ConfigInput) ConfigInput { in.Cadence = "daily"; return in },
		"slot count below 20":   func(in ConfigInput) ConfigInput { in.SlotsPerPeriod = 19; return in },
		"slot count above 100":  func(in ConfigInput) ConfigInput { in.SlotsPerPeriod = 101; return in },
		"bad start date":        func(in ConfigInput) ConfigInput { in.StartDate = "01/01/2024"; return in },
		"end before start":      func(in ConfigInput) ConfigInput { in.EndDate = "2023-12-31"; return in },
		"bad daily end time":    func(in ConfigInput) ConfigInput { in.DailyEndTime = "2pm"; return in },
		"out-of-range end time": func(in ConfigInput) ConfigInput { in.DailyEndTime = "25:00"; return in },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := env.configs.Create(ctx, mutate(validInput())); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	t.Run("bounds are inclusive", func(t *testing.T) {
		for _, n := range []int{MinSlotsPerPeriod, MaxSlotsPerPeriod} {
			in := validInput()
			in.SlotsPerPeriod = n
			if _, _, err := env.configs.Create(ctx, in); err != nil {
				t.Fatalf("slots=%d rejected: %v", n, err)
			}
		}
	})
}

func TestSlotMaterializationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)

	// Re-running generation against the same config inserts nothing.
	n, err := env.store.InsertSlots(ctx, cfg.ID, GenerateSlots(cfg))
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if n != 0 {
		t.Fatalf("re-insert created %d slots, want 0", n)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)
	env.addStudent(t, cfg.ID, "20241234AB", "654321")

	t.Run("unknown config", func(t *testing.T) {
		_, _, _, err := env.bookings.Login(ctx, "nope", "20241234AB", "654321")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("closed config is unavailable", func(t *testing.T) {
		if err := env.configs.SetClosed(ctx, cfg.ID, true); err != nil {
			t.Fatal(err)
		}
		defer env.configs.SetClosed(ctx, cfg.ID, false)
		_, _, _, err := env.bookings.Login(ctx, cfg.ID, "20241234AB", "654321")
		if !errors.Is(err, ErrSchedulingUnavailable) {
			t.Fatalf("err = %v, want ErrSchedulingUnavailable", err)
		}
	})

	t.Run("wrong code and wrong id fail identically", func(t *testing.T) {
		_, _, _, badCode := env.bookings.Login(ctx, cfg.ID, "20241234AB", "000000")
		_, _, _, badID := env.bookings.Login(ctx, cfg.ID, "20249999ZZ", "654321")
		if !errors.Is(badCode, ErrInvalidCredentials) || !errors.Is(badID, ErrInvalidCredentials) {
			t.Fatalf("errs = %v / %v, want ErrInvalidCredentials for both", badCode, badID)
		}
	})

	t.Run("success without prior booking", func(t *testing.T) {
		student, gotCfg, appt, err := env.bookings.Login(ctx, cfg.ID, "20241234AB", "654321")
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if student.ExternalID != "20241234AB" || gotCfg.ID != cfg.ID {
			t.Errorf("login returned student %q under config %q", student.ExternalID, gotCfg.ID)
		}
		if appt != nil {
			t.Errorf("unexpected appointment %+v", appt)
		}
	})

	t.Run("existing appointment is returned", func(t *testing.T) {
		student, _, _, err := env.bookings.Login(ctx, cfg.ID, "20241234AB", "654321")
		if err != nil {
			t.Fatal(err)
		}
		slot := env.firstSlot(t, cfg.ID)
		if _, err := env.bookings.Book(ctx, cfg.ID, student.ID, slot.ID); err != nil {
			t.Fatalf("book: %v", err)
		}
		_, _, appt, err := env.bookings.Login(ctx, cfg.ID, "20241234AB", "654321")
		if err != nil {
			t.Fatal(err)
		}
		if appt == nil || appt.SlotID != slot.ID {
			t.Fatalf("appointment = %+v, want booking on slot %s", appt, slot.ID)
		}
	})
}

func TestBook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)
	student := env.addStudent(t, cfg.ID, "20240001AA", "111111")

	slot := env.firstSlot(t, cfg.ID)

	appt, err := env.bookings.Book(ctx, cfg.ID, student.ID, slot.ID)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !appt.Date.Equal(slot.Date) || appt.Time != slot.Time {
		t.Errorf("appointment %s %s does not match slot %s %s",
			appt.Date.Format("2006-01-02"), appt.Time, slot.Date.Format("2006-01-02"), slot.Time)
	}

	t.Run("student flags updated", func(t *testing.T) {
		got, err := env.store.GetStudent(ctx, student.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.HasScheduled || got.ScheduledDate == nil || got.ScheduledTime != slot.Time {
			t.Errorf("student after booking = %+v", got)
		}
	})

	t.Run("slot counter incremented", func(t *testing.T) {
		got, err := env.store.GetSlot(ctx, slot.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.BookedCount != 1 {
			t.Errorf("booked count = %d, want 1", got.BookedCount)
		}
	})

	t.Run("second booking by same student fails for any slot", func(t *testing.T) {
		other := env.firstSlot(t, cfg.ID)
		if _, err := env.bookings.Book(ctx, cfg.ID, student.ID, other.ID); !errors.Is(err, ErrAlreadyScheduled) {
			t.Fatalf("err = %v, want ErrAlreadyScheduled", err)
		}
	})

	t.Run("unknown slot", func(t *testing.T) {
		s2 := env.addStudent(t, cfg.ID, "20240002AA", "222222")
		if _, err := env.bookings.Book(ctx, cfg.ID, s2.ID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("closed config rejects booking", func(t *testing.T) {
		if err := env.configs.SetClosed(ctx, cfg.ID, true); err != nil {
			t.Fatal(err)
		}
		defer env.configs.SetClosed(ctx, cfg.ID, false)
		s3 := env.addStudent(t, cfg.ID, "20240003AA", "333333")
		slot := env.firstSlot(t, cfg.ID)
		if _, err := env.bookings.Book(ctx, cfg.ID, s3.ID, slot.ID); !errors.Is(err, ErrSchedulingUnavailable) {
			t.Fatalf("err = %v, want ErrSchedulingUnavailable", err)
		}
	})
}

// Two students race for the last unit of a capacity-1 slot: exactly one
// wins, the other sees ErrSlotFull, and the counter lands on 1.
func TestBookCapacityRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)
	s1 := env.addStudent(t, cfg.ID, "20240010AA", "101010")
	s2 := env.addStudent(t, cfg.ID, "20240011AA", "111011")
	slot := env.firstSlot(t, cfg.ID)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{s1.ID, s2.ID} {
		wg.Add(1)
		go func(i int, studentID string) {
			defer wg.Done()
			<-start
			_, errs[i] = env.bookings.Book(ctx, cfg.ID, studentID, slot.ID)
		}(i, id)
	}
	close(start)
	wg.Wait()

	var won, full int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || full != 1 {
		t.Fatalf("winners=%d slot-full=%d, want exactly one of each", won, full)
	}

	got, err := env.store.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BookedCount != 1 {
		t.Fatalf("booked count = %d, want 1", got.BookedCount)
	}
}

// The slot counter must always equal the number of appointments that
// reference the slot, even after a churn of bookings and cancellations.
func TestCapacityInvariantUnderChurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)

	students := make([]Student, 8)
	for i := range students {
		externalID := fmt.Sprintf("2024010%dAA", i)
		students[i] = env.addStudent(t, cfg.ID, externalID, "999999")
	}

	var wg sync.WaitGroup
	for _, st := range students {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				days, err := env.bookings.ListAvailable(ctx, cfg.ID)
				if err != nil || len(days) == 0 || len(days[0].Slots) == 0 {
					return
				}
				slot := days[0].Slots[j%len(days[0].Slots)]
				if _, err := env.bookings.Book(ctx, cfg.ID, studentID, slot.ID); err == nil {
					_, _ = env.bookings.Cancel(ctx, studentID)
				}
			}
		}(st.ID)
	}
	wg.Wait()

	perSlot := map[string]int{}
	env.store.mu.Lock()
	for _, appt := range env.store.appointments {
		perSlot[appt.SlotID]++
	}
	for id, slot := range env.store.slots {
		if slot.BookedCount != perSlot[id] {
			t.Errorf("slot %s: booked_count=%d, appointments=%d", id, slot.BookedCount, perSlot[id])
		}
		if slot.BookedCount < 0 || slot.BookedCount > slot.Capacity {
			t.Errorf("slot %s: booked_count=%d outside [0,%d]", id, slot.BookedCount, slot.Capacity)
		}
	}
	env.store.mu.Unlock()
}

func TestCancelThenRebook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)
	s1 := env.addStudent(t, cfg.ID, "20240020AA", "202020")
	s2 := env.addStudent(t, cfg.ID, "20240021AA", "212121")

	slot := env.firstSlot(t, cfg.ID)
	if _, err := env.bookings.Book(ctx, cfg.ID, s1.ID, slot.ID); err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := env.bookings.Cancel(ctx, s1.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	t.Run("counter decremented and flags cleared", func(t *testing.T) {
		got, _ := env.store.GetSlot(ctx, slot.ID)
		if got.BookedCount != 0 {
			t.Errorf("booked count = %d, want 0", got.BookedCount)
		}
		st, _ := env.store.GetStudent(ctx, s1.ID)
		if st.HasScheduled || st.ScheduledDate != nil || st.ScheduledTime != "" {
			t.Errorf("student after cancel = %+v", st)
		}
	})

	t.Run("freed slot reappears in the listing", func(t *testing.T) {
		if got := env.firstSlot(t, cfg.ID); got.ID != slot.ID {
			t.Fatalf("first available slot = %s, want freed slot %s", got.ID, slot.ID)
		}
	})

	t.Run("another student can take the freed slot", func(t *testing.T) {
		if _, err := env.bookings.Book(ctx, cfg.ID, s2.ID, slot.ID); err != nil {
			t.Fatalf("rebook: %v", err)
		}
	})

	t.Run("cancel without appointment", func(t *testing.T) {
		if _, err := env.bookings.Cancel(ctx, s1.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestListAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)

	// One slot in the past relative to fixedNow.
	if _, err := env.store.InsertSlots(ctx, cfg.ID, []SlotTime{
		{Date: date(2023, time.December, 29), Time: "09:00"},
	}); err != nil {
		t.Fatal(err)
	}

	days, err := env.bookings.ListAvailable(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(days) != 5 {
		t.Fatalf("got %d days, want 5 business days", len(days))
	}
	prevDate := ""
	for _, day := range days {
		if day.Date < "2024-01-01" {
			t.Errorf("past day %s listed", day.Date)
		}
		if day.Date <= prevDate {
			t.Errorf("days out of order: %s after %s", day.Date, prevDate)
		}
		prevDate = day.Date
		for i := 1; i < len(day.Slots); i++ {
			if day.Slots[i].Time <= day.Slots[i-1].Time {
				t.Errorf("day %s: times out of order at %d", day.Date, i)
			}
		}
	}

	t.Run("exhausted slots vanish", func(t *testing.T) {
		st := env.addStudent(t, cfg.ID, "20240030AA", "303030")
		slot := env.firstSlot(t, cfg.ID)
		if _, err := env.bookings.Book(ctx, cfg.ID, st.ID, slot.ID); err != nil {
			t.Fatal(err)
		}
		days, err := env.bookings.ListAvailable(ctx, cfg.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, day := range days {
			for _, s := range day.Slots {
				if s.ID == slot.ID {
					t.Fatal("fully booked slot still listed")
				}
			}
		}
	})
}

func TestImportRoster(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := env.createConfig(t)

	entries := []RosterEntry{
		{ExternalID: "20241111AB", FullName: "Ada Obi", Email: "ada@example.edu", Faculty: "Science", Department: "Physics", Level: "100"},
		{ExternalID: "PG/24/0042", FullName: "Ben Musa", Email: "ben@example.edu"},
		{ExternalID: "", FullName: "No Id"}, // dropped
	}

	inserted, skipped, err := env.configs.ImportRoster(ctx, cfg.ID, entries)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if inserted != 2 || skipped != 1 {
		t.Fatalf("inserted=%d skipped=%d, want 2/1", inserted, skipped)
	}

	codePattern := regexp.MustCompile(`^\d{6}$`)
	codes := map[string]string{}
	env.store.mu.Lock()
	for _, st := range env.store.students {
		if !codePattern.MatchString(st.LoginCode) {
			t.Errorf("student %s has malformed login code %q", st.ExternalID, st.LoginCode)
		}
		codes[st.ExternalID] = st.LoginCode
	}
	env.store.mu.Unlock()

	t.Run("re-import keeps issued codes", func(t *testing.T) {
		inserted, skipped, err := env.configs.ImportRoster(ctx, cfg.ID, entries)
		if err != nil {
			t.Fatal(err)
		}
		if inserted != 0 || skipped != 3 {
			t.Fatalf("inserted=%d skipped=%d, want 0/3", inserted, skipped)
		}
		env.store.mu.Lock()
		defer env.store.mu.Unlock()
		for _, st := range env.store.students {
			if codes[st.ExternalID] != st.LoginCode {
				t.Errorf("student %s login code changed on re-import", st.ExternalID)
			}
		}
	})

	t.Run("unknown config", func(t *testing.T) {
		if _, _, err := env.configs.ImportRoster(ctx, "missing", entries); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}
