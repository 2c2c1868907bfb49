package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists attendance sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveByClassroom returns the active session for a classroom, or nil.
func (r *Repository) ActiveByClassroom(ctx context.Context, classroomID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, classroom_id, is_active, started_at, expires_at, ended_at, duration_seconds
		FROM attendance_sessions
		WHERE classroom_id = $1 AND is_active
	`, classroomID)
	return scanSession(row)
}

// StartSession deactivates any active session for the classroom and inserts
// the new one in a single transaction.
func (r *Repository) StartSession(ctx context.Context, s Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, ended_at = $2
		WHERE classroom_id = $1 AND is_active
	`, s.ClassroomID, s.StartedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (session_id, classroom_id, is_active, started_at, expires_at, duration_seconds)
		VALUES ($1, $2, TRUE, $3, $4, $5)
	`, s.SessionID, s.ClassroomID, s.StartedAt, s.ExpiresAt, s.DurationSeconds); err != nil {
		return err
	}

	return tx.Commit()
}

// DeactivateActive ends the classroom's active session if one exists.
func (r *Repository) DeactivateActive(ctx context.Context, classroomID string, endedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, ended_at = $2
		WHERE classroom_id = $1 AND is_active
	`, classroomID, endedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Deactivate ends a session by id, conditional on it still being active.
func (r *Repository) Deactivate(ctx context.Context, sessionID string, endedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, ended_at = $2
		WHERE session_id = $1 AND is_active
	`, sessionID, endedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IDsStartedBefore returns ids of sessions created before cutoff, regardless
// of the active flag. Used by the cleanup sweep.
func (r *Repository) IDsStartedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id FROM attendance_sessions WHERE started_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ClassroomsStartedBefore returns the distinct classrooms owning sessions
// created before cutoff, so their cached descriptors can be purged when the
// sessions are swept.
func (r *Repository) ClassroomsStartedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT classroom_id FROM attendance_sessions WHERE started_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// DeleteByIDs removes sessions by id and reports how many went away.
func (r *Repository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_sessions WHERE session_id = ANY($1)
	`, ids)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IDsForClassroomBetween returns ids of sessions a classroom started within
// [from, to). Used by the finish-session wipe.
func (r *Repository) IDsForClassroomBetween(ctx context.Context, classroomID string, from, to time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id FROM attendance_sessions
		WHERE classroom_id = $1 AND started_at >= $2 AND started_at < $3
	`, classroomID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// DeleteForClassroomBetween removes a classroom's sessions started within
// [from, to).
func (r *Repository) DeleteForClassroomBetween(ctx context.Context, classroomID string, from, to time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_sessions
		WHERE classroom_id = $1 AND started_at >= $2 AND started_at < $3
	`, classroomID, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountAll returns the total number of sessions.
func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_sessions`).Scan(&n)
	return n, err
}

// CountStartedBefore returns how many sessions predate cutoff.
func (r *Repository) CountStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_sessions WHERE started_at < $1
	`, cutoff).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var endedAt sql.NullTime
	err := row.Scan(&s.SessionID, &s.ClassroomID, &s.IsActive, &s.StartedAt, &s.ExpiresAt, &endedAt, &s.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
