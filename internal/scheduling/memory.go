package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for dev and tests. A single mutex
// stands in for the database's row locks: every transaction-shaped method
// runs to completion under it, giving the same observable semantics as the
// Postgres Repository (one winner per capacity unit, no partial state).
type MemoryStore struct {
	mu           sync.Mutex
	configs      map[string]*Config
	slots        map[string]*Slot
	students     map[string]*Student
	appointments map[string]*Appointment // keyed by student id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:      make(map[string]*Config),
		slots:        make(map[string]*Slot),
		students:     make(map[string]*Student),
		appointments: make(map[string]*Appointment),
	}
}

var _ Store = (*MemoryStore)(nil)

// CreateConfig persists a new config.
func (m *MemoryStore) CreateConfig(_ context.Context, cfg Config) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	c := cfg
	m.configs[cfg.ID] = &c
	return cfg, nil
}

// GetConfig returns one config or ErrNotFound.
func (m *MemoryStore) GetConfig(_ context.Context, id string) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return Config{}, ErrNotFound
	}
	return *cfg, nil
}

// ListConfigs returns all configs, newest first.
func (m *MemoryStore) ListConfigs(_ context.Context) ([]Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Config, 0, len(m.configs))
	for _, cfg := range m.configs {
		res = append(res, *cfg)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// SetConfigClosed flips the closed flag.
func (m *MemoryStore) SetConfigClosed(_ context.Context, id string, closed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return ErrNotFound
	}
	cfg.Closed = closed
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteConfig removes the config and cascades to everything under it.
func (m *MemoryStore) DeleteConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return ErrNotFound
	}
	delete(m.configs, id)
	for sid, s := range m.slots {
		if s.ConfigID == id {
			delete(m.slots, sid)
		}
	}
	for sid, st := range m.students {
		if st.ConfigID == id {
			delete(m.students, sid)
			delete(m.appointments, sid)
		}
	}
	return nil
}

// InsertSlots writes slot times, skipping (date, time) pairs that exist.
func (m *MemoryStore) InsertSlots(_ context.Context, configID string, times []SlotTime) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, s := range m.slots {
		if s.ConfigID == configID {
			seen[s.Date.Format("2006-01-02")+" "+s.Time] = true
		}
	}
	inserted := 0
	for _, t := range times {
		key := t.Date.Format("2006-01-02") + " " + t.Time
		if seen[key] {
			continue
		}
		seen[key] = true
		id := uuid.NewString()
		m.slots[id] = &Slot{
			ID:        id,
			ConfigID:  configID,
			Date:      t.Date,
			Time:      t.Time,
			Capacity:  1,
			Available: true,
		}
		inserted++
	}
	return inserted, nil
}

// ListAvailableSlots returns bookable slots from the given date forward,
// ordered by date then time.
func (m *MemoryStore) ListAvailableSlots(_ context.Context, configID string, from time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Slot
	for _, s := range m.slots {
		if s.ConfigID == configID && s.Available && s.BookedCount < s.Capacity && !s.Date.Before(from) {
			res = append(res, *s)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.Before(res[j].Date)
		}
		return res[i].Time < res[j].Time
	})
	return res, nil
}

// GetSlot returns one slot or ErrNotFound.
func (m *MemoryStore) GetSlot(_ context.Context, id string) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return Slot{}, ErrNotFound
	}
	return *s, nil
}

// InsertStudents bulk-creates roster entries, skipping external ids already
// present under the same config.
func (m *MemoryStore) InsertStudents(_ context.Context, students []Student) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, st := range m.students {
		seen[st.ConfigID+"|"+st.ExternalID] = true
	}
	inserted := 0
	for _, st := range students {
		key := st.ConfigID + "|" + st.ExternalID
		if seen[key] {
			continue
		}
		seen[key] = true
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.CreatedAt = time.Now().UTC()
		s := st
		m.students[st.ID] = &s
		inserted++
	}
	return inserted, nil
}

// StudentByCredentials matches external id and login code together.
func (m *MemoryStore) StudentByCredentials(_ context.Context, configID, externalID, loginCode string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.students {
		if st.ConfigID == configID && st.ExternalID == externalID && st.LoginCode == loginCode {
			return *st, nil
		}
	}
	return Student{}, ErrNotFound
}

// GetStudent returns one roster entry or ErrNotFound.
func (m *MemoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return *st, nil
}

// ListUnnotified returns roster entries with an email and no sent flag.
func (m *MemoryStore) ListUnnotified(_ context.Context, configID string) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Student
	for _, st := range m.students {
		if st.ConfigID == configID && !st.EmailSent && st.Email != "" {
			res = append(res, *st)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ExternalID < res[j].ExternalID })
	return res, nil
}

// MarkNotified records that the login-code email went out.
func (m *MemoryStore) MarkNotified(_ context.Context, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.students[studentID]; ok {
		st.EmailSent = true
	}
	return nil
}

// AppointmentByStudent returns the student's appointment, nil when none.
func (m *MemoryStore) AppointmentByStudent(_ context.Context, studentID string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[studentID]
	if !ok {
		return nil, nil
	}
	appt := *a
	return &appt, nil
}

// Book runs the booking under the store mutex: existing-appointment check,
// capacity re-check, insert, increment and student flags all commit
// together or not at all.
func (m *MemoryStore) Book(_ context.Context, configID, studentID, slotID string) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.appointments[studentID]; ok {
		return Appointment{}, ErrAlreadyScheduled
	}
	slot, ok := m.slots[slotID]
	if !ok || slot.ConfigID != configID {
		return Appointment{}, ErrNotFound
	}
	if !slot.Available || slot.BookedCount >= slot.Capacity {
		return Appointment{}, ErrSlotFull
	}
	student, ok := m.students[studentID]
	if !ok || student.ConfigID != configID {
		return Appointment{}, ErrNotFound
	}

	appt := Appointment{
		ID:        uuid.NewString(),
		ConfigID:  configID,
		StudentID: studentID,
		SlotID:    slotID,
		Date:      slot.Date,
		Time:      slot.Time,
		CreatedAt: time.Now().UTC(),
	}
	m.appointments[studentID] = &appt
	slot.BookedCount++
	student.HasScheduled = true
	d := slot.Date
	student.ScheduledDate = &d
	student.ScheduledTime = slot.Time
	return appt, nil
}

// Cancel releases the student's appointment under the store mutex.
func (m *MemoryStore) Cancel(_ context.Context, studentID string) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[studentID]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	if slot, ok := m.slots[a.SlotID]; ok && slot.BookedCount > 0 {
		slot.BookedCount--
	}
	if st, ok := m.students[studentID]; ok {
		st.HasScheduled = false
		st.ScheduledDate = nil
		st.ScheduledTime = ""
	}
	appt := *a
	delete(m.appointments, studentID)
	return appt, nil
}
