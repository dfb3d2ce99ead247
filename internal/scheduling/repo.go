package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the Postgres Store. Book and Cancel serialize on the slot
// row with SELECT ... FOR UPDATE; everything else is plain reads/writes.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateConfig persists a new scheduling config.
func (r *Repository) CreateConfig(ctx context.Context, cfg Config) (Config, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO scheduling_configs
			(id, title, description, cadence, slots_per_period, start_date, end_date,
			 daily_end_time, exclude_weekends, closed, active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at
	`, cfg.ID, cfg.Title, cfg.Description, cfg.Cadence, cfg.SlotsPerPeriod, cfg.StartDate,
		nullTime(cfg.EndDate), cfg.DailyEndTime, cfg.ExcludeWeekends, cfg.Closed, cfg.Active, cfg.CreatedBy)
	if err := row.Scan(&cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const configColumns = `id, title, description, cadence, slots_per_period, start_date, end_date,
	daily_end_time, exclude_weekends, closed, active, created_by, created_at, updated_at`

// GetConfig returns one config or ErrNotFound.
func (r *Repository) GetConfig(ctx context.Context, id string) (Config, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM scheduling_configs WHERE id = $1`, id)
	return scanConfig(row)
}

// ListConfigs returns all configs, newest first.
func (r *Repository) ListConfigs(ctx context.Context) ([]Config, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+configColumns+` FROM scheduling_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cfg)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (Config, error) {
	var cfg Config
	var end sql.NullTime
	err := row.Scan(&cfg.ID, &cfg.Title, &cfg.Description, &cfg.Cadence, &cfg.SlotsPerPeriod,
		&cfg.StartDate, &end, &cfg.DailyEndTime, &cfg.ExcludeWeekends, &cfg.Closed, &cfg.Active,
		&cfg.CreatedBy, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}
	if end.Valid {
		cfg.EndDate = &end.Time
	}
	return cfg, nil
}

// SetConfigClosed flips the closed flag.
func (r *Repository) SetConfigClosed(ctx context.Context, id string, closed bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduling_configs SET closed = $2, updated_at = NOW() WHERE id = $1
	`, id, closed)
	if err != nil {
		return err
	}
	return errIfNoRows(res)
}

// DeleteConfig hard-deletes the config; slots, roster entries and
// appointments go with it via ON DELETE CASCADE.
func (r *Repository) DeleteConfig(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduling_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return errIfNoRows(res)
}

// InsertSlots writes generated slot times, skipping duplicates on the
// (config, date, time) constraint so regeneration is idempotent.
func (r *Repository) InsertSlots(ctx context.Context, configID string, times []SlotTime) (int, error) {
	if len(times) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, t := range times {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO time_slots (id, config_id, slot_date, slot_time)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (config_id, slot_date, slot_time) DO NOTHING
		`, uuid.NewString(), configID, t.Date, t.Time)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

const slotColumns = `id, config_id, slot_date, slot_time, capacity, booked_count, available`

// ListAvailableSlots returns bookable slots from the given date forward.
func (r *Repository) ListAvailableSlots(ctx context.Context, configID string, from time.Time) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE config_id = $1 AND available AND booked_count < capacity AND slot_date >= $2
		ORDER BY slot_date, slot_time
	`, configID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.ConfigID, &s.Date, &s.Time, &s.Capacity, &s.BookedCount, &s.Available); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetSlot returns one slot or ErrNotFound.
func (r *Repository) GetSlot(ctx context.Context, id string) (Slot, error) {
	var s Slot
	err := r.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id).
		Scan(&s.ID, &s.ConfigID, &s.Date, &s.Time, &s.Capacity, &s.BookedCount, &s.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{}, ErrNotFound
	}
	return s, err
}

// InsertStudents bulk-creates roster entries; existing (config, external id)
// rows keep their previously issued login code.
func (r *Repository) InsertStudents(ctx context.Context, students []Student) (int, error) {
	if len(students) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, st := range students {
		id := st.ID
		if id == "" {
			id = uuid.NewString()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_students
				(id, config_id, external_id, full_name, email, phone, faculty, department, level, login_code)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (config_id, external_id) DO NOTHING
		`, id, st.ConfigID, st.ExternalID, st.FullName, st.Email, st.Phone, st.Faculty, st.Department, st.Level, st.LoginCode)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

const studentColumns = `id, config_id, external_id, full_name, email, phone, faculty, department,
	level, login_code, has_scheduled, scheduled_date, scheduled_time, email_sent, created_at`

func scanStudent(row rowScanner) (Student, error) {
	var st Student
	var schedDate sql.NullTime
	var schedTime sql.NullString
	err := row.Scan(&st.ID, &st.ConfigID, &st.ExternalID, &st.FullName, &st.Email, &st.Phone,
		&st.Faculty, &st.Department, &st.Level, &st.LoginCode, &st.HasScheduled,
		&schedDate, &schedTime, &st.EmailSent, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, err
	}
	if schedDate.Valid {
		st.ScheduledDate = &schedDate.Time
	}
	st.ScheduledTime = schedTime.String
	return st, nil
}

// StudentByCredentials matches external id and login code together under
// one config; any mismatch is ErrNotFound.
func (r *Repository) StudentByCredentials(ctx context.Context, configID, externalID, loginCode string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentColumns+`
		FROM scheduled_students
		WHERE config_id = $1 AND external_id = $2 AND login_code = $3
	`, configID, externalID, loginCode)
	return scanStudent(row)
}

// GetStudent returns one roster entry or ErrNotFound.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM scheduled_students WHERE id = $1`, id)
	return scanStudent(row)
}

// ListUnnotified returns roster entries whose login code has not been mailed.
func (r *Repository) ListUnnotified(ctx context.Context, configID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+studentColumns+`
		FROM scheduled_students
		WHERE config_id = $1 AND NOT email_sent AND email <> ''
		ORDER BY created_at
	`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// MarkNotified records that the login-code email went out.
func (r *Repository) MarkNotified(ctx context.Context, studentID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_students SET email_sent = TRUE WHERE id = $1`, studentID)
	return err
}

const appointmentColumns = `id, config_id, student_id, slot_id, slot_date, slot_time, created_at`

// AppointmentByStudent returns the student's appointment, nil when none.
func (r *Repository) AppointmentByStudent(ctx context.Context, studentID string) (*Appointment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE student_id = $1
	`, studentID)
	var a Appointment
	if err := row.Scan(&a.ID, &a.ConfigID, &a.StudentID, &a.SlotID, &a.Date, &a.Time, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// Book runs the whole booking as one transaction. The FOR UPDATE read
// serializes contenders on the slot row: the loser waits for the winner to
// commit, then re-reads a fresh booked_count and fails ErrSlotFull instead
// of overselling. The UNIQUE(student_id) constraint on appointments is the
// backstop for a duplicate-booking race that slips past the first check.
func (r *Repository) Book(ctx context.Context, configID, studentID, slotID string) (Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Appointment{}, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE student_id = $1)
	`, studentID).Scan(&exists)
	if err != nil {
		return Appointment{}, err
	}
	if exists {
		return Appointment{}, ErrAlreadyScheduled
	}

	var slot Slot
	err = tx.QueryRowContext(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1 AND config_id = $2
		FOR UPDATE
	`, slotID, configID).Scan(&slot.ID, &slot.ConfigID, &slot.Date, &slot.Time,
		&slot.Capacity, &slot.BookedCount, &slot.Available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, err
	}
	if !slot.Available || slot.BookedCount >= slot.Capacity {
		return Appointment{}, ErrSlotFull
	}

	var studentKnown bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM scheduled_students WHERE id = $1 AND config_id = $2)
	`, studentID, configID).Scan(&studentKnown)
	if err != nil {
		return Appointment{}, err
	}
	if !studentKnown {
		return Appointment{}, ErrNotFound
	}

	appt := Appointment{
		ID:        uuid.NewString(),
		ConfigID:  configID,
		StudentID: studentID,
		SlotID:    slot.ID,
		Date:      slot.Date,
		Time:      slot.Time,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO appointments (id, config_id, student_id, slot_id, slot_date, slot_time)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, appt.ID, appt.ConfigID, appt.StudentID, appt.SlotID, appt.Date, appt.Time).Scan(&appt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Appointment{}, ErrAlreadyScheduled
		}
		return Appointment{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE time_slots SET booked_count = booked_count + 1 WHERE id = $1
	`, slot.ID); err != nil {
		return Appointment{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_students
		SET has_scheduled = TRUE, scheduled_date = $2, scheduled_time = $3
		WHERE id = $1
	`, studentID, slot.Date, slot.Time); err != nil {
		return Appointment{}, err
	}

	return appt, tx.Commit()
}

// Cancel deletes the student's appointment, frees the capacity unit and
// clears the scheduled flags, all in one transaction.
func (r *Repository) Cancel(ctx context.Context, studentID string) (Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Appointment{}, err
	}
	defer tx.Rollback()

	var a Appointment
	err = tx.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+` FROM appointments WHERE student_id = $1 FOR UPDATE
	`, studentID).Scan(&a.ID, &a.ConfigID, &a.StudentID, &a.SlotID, &a.Date, &a.Time, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE time_slots SET booked_count = booked_count - 1 WHERE id = $1 AND booked_count > 0
	`, a.SlotID); err != nil {
		return Appointment{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_students
		SET has_scheduled = FALSE, scheduled_date = NULL, scheduled_time = NULL
		WHERE id = $1
	`, studentID); err != nil {
		return Appointment{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, a.ID); err != nil {
		return Appointment{}, err
	}

	return a, tx.Commit()
}

func errIfNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
