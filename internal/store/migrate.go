package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema bootstrap. Statements are idempotent so every process can run
// them at startup. The two UNIQUE constraints are load-bearing: slots
// dedupe regenerated (config, date, time) rows, and appointments enforce
// one booking per student even when a race slips past the application
// check. The CHECK keeps booked_count inside [0, capacity] no matter what.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scheduling_configs (
		id               UUID PRIMARY KEY,
		title            TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		cadence          TEXT NOT NULL,
		slots_per_period INT  NOT NULL,
		start_date       DATE NOT NULL,
		end_date         DATE,
		daily_end_time   TEXT NOT NULL,
		exclude_weekends BOOLEAN NOT NULL DEFAULT FALSE,
		closed           BOOLEAN NOT NULL DEFAULT FALSE,
		active           BOOLEAN NOT NULL DEFAULT TRUE,
		created_by       TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS time_slots (
		id           UUID PRIMARY KEY,
		config_id    UUID NOT NULL REFERENCES scheduling_configs(id) ON DELETE CASCADE,
		slot_date    DATE NOT NULL,
		slot_time    TEXT NOT NULL,
		capacity     INT NOT NULL DEFAULT 1,
		booked_count INT NOT NULL DEFAULT 0,
		available    BOOLEAN NOT NULL DEFAULT TRUE,
		CONSTRAINT time_slots_config_date_time_key UNIQUE (config_id, slot_date, slot_time),
		CONSTRAINT time_slots_booked_within_capacity CHECK (booked_count >= 0 AND booked_count <= capacity)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_students (
		id             UUID PRIMARY KEY,
		config_id      UUID NOT NULL REFERENCES scheduling_configs(id) ON DELETE CASCADE,
		external_id    TEXT NOT NULL,
		full_name      TEXT NOT NULL,
		email          TEXT NOT NULL DEFAULT '',
		phone          TEXT NOT NULL DEFAULT '',
		faculty        TEXT NOT NULL DEFAULT '',
		department     TEXT NOT NULL DEFAULT '',
		level          TEXT NOT NULL DEFAULT '',
		login_code     TEXT NOT NULL,
		has_scheduled  BOOLEAN NOT NULL DEFAULT FALSE,
		scheduled_date DATE,
		scheduled_time TEXT,
		email_sent     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT scheduled_students_config_external_key UNIQUE (config_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id         UUID PRIMARY KEY,
		config_id  UUID NOT NULL REFERENCES scheduling_configs(id) ON DELETE CASCADE,
		student_id UUID NOT NULL UNIQUE REFERENCES scheduled_students(id) ON DELETE CASCADE,
		slot_id    UUID NOT NULL REFERENCES time_slots(id) ON DELETE CASCADE,
		slot_date  DATE NOT NULL,
		slot_time  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS time_slots_listing_idx
		ON time_slots (config_id, slot_date, slot_time)`,
	`CREATE INDEX IF NOT EXISTS scheduled_students_login_idx
		ON scheduled_students (config_id, external_id, login_code)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
