package scheduling

import (
	"context"
	"errors"
	"time"
)

// Cadence of a scheduling window.
const (
	CadenceWeekly  = "weekly"
	CadenceMonthly = "monthly"
)

// Slot count bounds enforced on config creation.
const (
	MinSlotsPerPeriod = 20
	MaxSlotsPerPeriod = 100
)

// Sentinel errors surfaced by the booking flow. Handlers match them with
// errors.Is to pick status codes.
var (
	// ErrSchedulingUnavailable means the config is inactive or closed.
	ErrSchedulingUnavailable = errors.New("scheduling is not currently open")
	// ErrInvalidCredentials never distinguishes which half of the
	// (id, code) pair was wrong.
	ErrInvalidCredentials = errors.New("invalid student id or login code")
	// ErrAlreadyScheduled means the student already holds an appointment.
	ErrAlreadyScheduled = errors.New("an appointment already exists for this student")
	// ErrSlotFull means the slot lost its remaining capacity to a
	// concurrent booking or was marked unavailable.
	ErrSlotFull = errors.New("slot no longer available")
	// ErrNotFound covers unknown configs, slots and missing appointments.
	ErrNotFound = errors.New("not found")
)

// Config is one scheduling window: a bounded inventory of bookable slots.
type Config struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Cadence         string     `json:"cadence"`
	SlotsPerPeriod  int        `json:"slots_per_period"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	DailyEndTime    string     `json:"daily_end_time"`
	ExcludeWeekends bool       `json:"exclude_weekends"`
	Closed          bool       `json:"closed"`
	Active          bool       `json:"active"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Slot is a bookable (date, time) unit with finite capacity.
type Slot struct {
	ID          string    `json:"id"`
	ConfigID    string    `json:"config_id"`
	Date        time.Time `json:"date"`
	Time        string    `json:"time"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Available   bool      `json:"available"`
}

// Remaining returns the unbooked capacity of the slot.
func (s Slot) Remaining() int { return s.Capacity - s.BookedCount }

// Student is a roster entry eligible to book under one config.
type Student struct {
	ID            string     `json:"id"`
	ConfigID      string     `json:"config_id"`
	ExternalID    string     `json:"external_id"`
	FullName      string     `json:"full_name"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Faculty       string     `json:"faculty,omitempty"`
	Department    string     `json:"department,omitempty"`
	Level         string     `json:"level,omitempty"`
	LoginCode     string     `json:"-"`
	HasScheduled  bool       `json:"has_scheduled"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	ScheduledTime string     `json:"scheduled_time,omitempty"`
	EmailSent     bool       `json:"email_sent"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Appointment joins one student to one slot-capacity unit. Date and time
// are denormalized from the slot at booking time.
type Appointment struct {
	ID        string    `json:"id"`
	ConfigID  string    `json:"config_id"`
	StudentID string    `json:"student_id"`
	SlotID    string    `json:"slot_id"`
	Date      time.Time `json:"date"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence boundary for configs, slots, roster entries and
// appointments. Book and Cancel are single atomic transactions: on any
// failure no partial state (orphan appointment, stale counter) remains.
//
// Implementations: Repository (Postgres, row-level locking) and MemoryStore
// (mutex-serialized, for dev and tests).
type Store interface {
	CreateConfig(ctx context.Context, cfg Config) (Config, error)
	GetConfig(ctx context.Context, id string) (Config, error)
	ListConfigs(ctx context.Context) ([]Config, error)
	SetConfigClosed(ctx context.Context, id string, closed bool) error
	// DeleteConfig cascades to all slots, roster entries and appointments
	// under the config. Irreversible.
	DeleteConfig(ctx context.Context, id string) error

	// InsertSlots persists generated slot times, skipping any (config,
	// date, time) that already exists. Returns the number inserted.
	InsertSlots(ctx context.Context, configID string, times []SlotTime) (int, error)
	// ListAvailableSlots returns open slots with remaining capacity on or
	// after the given date, ordered by date then time. Point-in-time view
	// only; Book re-validates under the row lock.
	ListAvailableSlots(ctx context.Context, configID string, from time.Time) ([]Slot, error)
	GetSlot(ctx context.Context, id string) (Slot, error)

	// InsertStudents bulk-creates roster entries, skipping any (config,
	// external id) already present so issued login codes stay immutable.
	// Returns the number inserted.
	InsertStudents(ctx context.Context, students []Student) (int, error)
	// StudentByCredentials matches on config, external id and login code
	// together; any mismatch is ErrNotFound.
	StudentByCredentials(ctx context.Context, configID, externalID, loginCode string) (Student, error)
	GetStudent(ctx context.Context, id string) (Student, error)
	ListUnnotified(ctx context.Context, configID string) ([]Student, error)
	MarkNotified(ctx context.Context, studentID string) error

	// AppointmentByStudent returns nil, nil when the student has none.
	AppointmentByStudent(ctx context.Context, studentID string) (*Appointment, error)

	// Book atomically checks the student holds no appointment, locks the
	// slot row, re-checks capacity, inserts the appointment, increments
	// booked_count and flags the student. Fails with ErrAlreadyScheduled,
	// ErrSlotFull or ErrNotFound.
	Book(ctx context.Context, configID, studentID, slotID string) (Appointment, error)
	// Cancel atomically deletes the student's appointment, decrements the
	// slot's booked_count and clears the student's scheduled state.
	// Returns the removed appointment, or ErrNotFound.
	Cancel(ctx context.Context, studentID string) (Appointment, error)
}
