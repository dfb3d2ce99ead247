package scheduling

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ConfigInput carries the fields an administrator supplies when creating a
// scheduling window.
type ConfigInput struct {
	Title           string `json:"title" binding:"required"`
	Description     string `json:"description"`
	Cadence         string `json:"cadence" binding:"required"`
	SlotsPerPeriod  int    `json:"slots_per_period" binding:"required"`
	StartDate       string `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate         string `json:"end_date"`
	DailyEndTime    string `json:"daily_end_time" binding:"required"` // HH:MM
	ExcludeWeekends bool   `json:"exclude_weekends"`
	CreatedBy       string `json:"created_by"`
}

// RosterEntry is one imported student row, before ids and login codes are
// assigned.
type RosterEntry struct {
	ExternalID string
	FullName   string
	Email      string
	Phone      string
	Faculty    string
	Department string
	Level      string
}

// DaySlots groups available slots under one date for the public listing.
type DaySlots struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// ConfigService owns the scheduling-window lifecycle: creation with slot
// materialization, close/reopen, cascade delete and roster import.
type ConfigService struct {
	store Store
}

// NewConfigService creates a config service backed by a store.
func NewConfigService(store Store) *ConfigService {
	return &ConfigService{store: store}
}

// Create validates the input, persists the config and materializes its
// slots. Returns the stored config and the number of slots created.
func (s *ConfigService) Create(ctx context.Context, in ConfigInput) (Config, int, error) {
	cfg, err := configFromInput(in)
	if err != nil {
		return Config{}, 0, err
	}

	created, err := s.store.CreateConfig(ctx, cfg)
	if err != nil {
		return Config{}, 0, err
	}

	times := GenerateSlots(created)
	n, err := s.store.InsertSlots(ctx, created.ID, times)
	if err != nil {
		return Config{}, 0, fmt.Errorf("materialize slots: %w", err)
	}
	slotsGenerated.Add(float64(n))
	return created, n, nil
}

// Get returns one config.
func (s *ConfigService) Get(ctx context.Context, id string) (Config, error) {
	return s.store.GetConfig(ctx, id)
}

// List returns all configs.
func (s *ConfigService) List(ctx context.Context) ([]Config, error) {
	return s.store.ListConfigs(ctx)
}

// SetClosed flips the closed flag only; existing appointments are untouched.
func (s *ConfigService) SetClosed(ctx context.Context, id string, closed bool) error {
	return s.store.SetConfigClosed(ctx, id, closed)
}

// Delete removes the config and everything under it. Irreversible.
func (s *ConfigService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteConfig(ctx, id)
}

// ImportRoster bulk-creates roster entries under a config, issuing each a
// 6-digit one-time login code. Rows whose external id already exists under
// the config are skipped, keeping previously issued codes intact. Returns
// (inserted, skipped).
func (s *ConfigService) ImportRoster(ctx context.Context, configID string, entries []RosterEntry) (int, int, error) {
	if _, err := s.store.GetConfig(ctx, configID); err != nil {
		return 0, 0, err
	}

	students := make([]Student, 0, len(entries))
	for _, e := range entries {
		externalID := strings.TrimSpace(e.ExternalID)
		name := strings.TrimSpace(e.FullName)
		if externalID == "" || name == "" {
			continue
		}
		code, err := newLoginCode()
		if err != nil {
			return 0, 0, fmt.Errorf("issue login code: %w", err)
		}
		students = append(students, Student{
			ConfigID:   configID,
			ExternalID: externalID,
			FullName:   name,
			Email:      strings.TrimSpace(e.Email),
			Phone:      strings.TrimSpace(e.Phone),
			Faculty:    e.Faculty,
			Department: e.Department,
			Level:      e.Level,
			LoginCode:  code,
		})
	}

	inserted, err := s.store.InsertStudents(ctx, students)
	if err != nil {
		return 0, 0, err
	}
	return inserted, len(entries) - inserted, nil
}

// Unnotified lists roster entries whose login code has not been mailed yet.
func (s *ConfigService) Unnotified(ctx context.Context, configID string) ([]Student, error) {
	if _, err := s.store.GetConfig(ctx, configID); err != nil {
		return nil, err
	}
	return s.store.ListUnnotified(ctx, configID)
}

// BookingService is the concurrency-critical core: student login, slot
// listing, atomic book and cancel. All serialization is delegated to the
// store's locking; the service holds no mutable state.
type BookingService struct {
	store Store
	now   func() time.Time
}

// NewBookingService creates a booking service backed by a store.
func NewBookingService(store Store) *BookingService {
	return &BookingService{store: store, now: time.Now}
}

// Login authenticates a roster entry by (external id, login code) under an
// open config. The two halves are matched together so a failure never
// reveals which one was wrong. Read-only; the returned appointment (if any)
// lets the caller choose between the slot picker and a confirmation view.
func (s *BookingService) Login(ctx context.Context, configID, externalID, loginCode string) (Student, Config, *Appointment, error) {
	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return Student{}, Config{}, nil, err
	}
	if !cfg.Active || cfg.Closed {
		return Student{}, Config{}, nil, ErrSchedulingUnavailable
	}

	student, err := s.store.StudentByCredentials(ctx, configID, strings.TrimSpace(externalID), strings.TrimSpace(loginCode))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Student{}, Config{}, nil, ErrInvalidCredentials
		}
		return Student{}, Config{}, nil, err
	}

	appt, err := s.store.AppointmentByStudent(ctx, student.ID)
	if err != nil {
		return Student{}, Config{}, nil, err
	}
	return student, cfg, appt, nil
}

// ListAvailable returns open slots with remaining capacity from today
// forward, grouped by date ascending, times ascending within each date.
// Point-in-time view: Book re-validates capacity under the row lock.
func (s *BookingService) ListAvailable(ctx context.Context, configID string) ([]DaySlots, error) {
	if _, err := s.store.GetConfig(ctx, configID); err != nil {
		return nil, err
	}

	today := dateOnly(s.now().UTC())
	slots, err := s.store.ListAvailableSlots(ctx, configID, today)
	if err != nil {
		return nil, err
	}

	days := []DaySlots{}
	for _, slot := range slots {
		date := slot.Date.Format("2006-01-02")
		if n := len(days); n > 0 && days[n-1].Date == date {
			days[n-1].Slots = append(days[n-1].Slots, slot)
			continue
		}
		days = append(days, DaySlots{Date: date, Slots: []Slot{slot}})
	}
	return days, nil
}

// Book atomically claims one unit of the slot's capacity for the student.
// The whole operation commits or rolls back as one transaction in the
// store; on ErrSlotFull the client is expected to re-list and pick again.
func (s *BookingService) Book(ctx context.Context, configID, studentID, slotID string) (Appointment, error) {
	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return Appointment{}, err
	}
	if !cfg.Active || cfg.Closed {
		return Appointment{}, ErrSchedulingUnavailable
	}

	appt, err := s.store.Book(ctx, configID, studentID, slotID)
	bookingsTotal.WithLabelValues(bookingOutcome(err)).Inc()
	return appt, err
}

// Cancel releases the student's appointment, freeing its capacity unit for
// the next listing.
func (s *BookingService) Cancel(ctx context.Context, studentID string) (Appointment, error) {
	appt, err := s.store.Cancel(ctx, studentID)
	if err == nil {
		cancellationsTotal.Inc()
	}
	return appt, err
}

// Appointment returns the student's current appointment, nil when none.
func (s *BookingService) Appointment(ctx context.Context, studentID string) (*Appointment, error) {
	return s.store.AppointmentByStudent(ctx, studentID)
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrAlreadyScheduled):
		return "already_scheduled"
	case errors.Is(err, ErrSlotFull):
		return "slot_full"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func configFromInput(in ConfigInput) (Config, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Config{}, errors.New("title required")
	}
	if in.Cadence != CadenceWeekly && in.Cadence != CadenceMonthly {
		return Config{}, fmt.Errorf("cadence must be %q or %q", CadenceWeekly, CadenceMonthly)
	}
	if in.SlotsPerPeriod < MinSlotsPerPeriod || in.SlotsPerPeriod > MaxSlotsPerPeriod {
		return Config{}, fmt.Errorf("slots per period must be between %d and %d", MinSlotsPerPeriod, MaxSlotsPerPeriod)
	}

	start, err := time.ParseInLocation("2006-01-02", in.StartDate, time.UTC)
	if err != nil {
		return Config{}, fmt.Errorf("invalid start date: %w", err)
	}

	var end *time.Time
	if in.EndDate != "" {
		e, err := time.ParseInLocation("2006-01-02", in.EndDate, time.UTC)
		if err != nil {
			return Config{}, fmt.Errorf("invalid end date: %w", err)
		}
		if e.Before(start) {
			return Config{}, errors.New("end date before start date")
		}
		end = &e
	}

	if _, err := parseMinute(in.DailyEndTime); err != nil {
		return Config{}, fmt.Errorf("invalid daily end time: %w", err)
	}

	return Config{
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		Cadence:         in.Cadence,
		SlotsPerPeriod:  in.SlotsPerPeriod,
		StartDate:       start,
		EndDate:         end,
		DailyEndTime:    in.DailyEndTime,
		ExcludeWeekends: in.ExcludeWeekends,
		Active:          true,
		CreatedBy:       in.CreatedBy,
	}, nil
}

// newLoginCode issues a 6-digit one-time code.
func newLoginCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
