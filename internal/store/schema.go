package store

import "context"

// Schema statements are applied in order at boot. Each one is idempotent so
// repeated startups are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS classrooms (
		classroom_id TEXT PRIMARY KEY,
		course_name  TEXT NOT NULL,
		class_code   TEXT NOT NULL,
		teacher_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS classrooms_class_code
		ON classrooms (class_code)`,

	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		session_id       TEXT PRIMARY KEY,
		classroom_id     TEXT NOT NULL,
		is_active        BOOLEAN NOT NULL DEFAULT FALSE,
		started_at       TIMESTAMPTZ NOT NULL,
		expires_at       TIMESTAMPTZ NOT NULL,
		ended_at         TIMESTAMPTZ,
		duration_seconds INTEGER NOT NULL DEFAULT 300
	)`,
	// One active session per classroom, enforced in storage so concurrent
	// starts cannot leave two sessions open.
	`CREATE UNIQUE INDEX IF NOT EXISTS attendance_sessions_one_active
		ON attendance_sessions (classroom_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS attendance_sessions_started_at
		ON attendance_sessions (started_at)`,

	`CREATE TABLE IF NOT EXISTS attendance (
		id            TEXT PRIMARY KEY,
		classroom_id  TEXT NOT NULL,
		student_id    TEXT NOT NULL,
		student_name  TEXT NOT NULL DEFAULT '',
		student_email TEXT NOT NULL DEFAULT '',
		session_id    TEXT NOT NULL,
		photo_url     TEXT NOT NULL,
		submitted_at  TIMESTAMPTZ NOT NULL,
		CONSTRAINT attendance_unique_per_session UNIQUE (classroom_id, student_id, session_id)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_classroom_submitted
		ON attendance (classroom_id, submitted_at)`,
	`CREATE INDEX IF NOT EXISTS attendance_session_id
		ON attendance (session_id)`,
}

// Migrate applies the schema. Call once at startup before serving traffic.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
