package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres error code for a unique-constraint breach.
const uniqueViolation = "23505"

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a record. The (classroom, student, session) unique constraint
// is the race-safety backstop behind the guard's day check; a violation comes
// back as ErrDuplicateSubmission.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, classroom_id, student_id, student_name, student_email, session_id, photo_url, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.ClassroomID, rec.StudentID, rec.StudentName, rec.StudentEmail, rec.SessionID, rec.PhotoURL, rec.SubmittedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateSubmission
	}
	return err
}

// FindForDay returns the student's record for the classroom within [from, to),
// or nil when none exists.
func (r *Repository) FindForDay(ctx context.Context, classroomID, studentID string, from, to time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, classroom_id, student_id, student_name, student_email, session_id, photo_url, submitted_at
		FROM attendance
		WHERE classroom_id = $1 AND student_id = $2 AND submitted_at >= $3 AND submitted_at < $4
		LIMIT 1
	`, classroomID, studentID, from, to)
	var rec Record
	err := scanRecord(row, &rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListForDay returns a classroom's records within [from, to), newest first.
func (r *Repository) ListForDay(ctx context.Context, classroomID string, from, to time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, classroom_id, student_id, student_name, student_email, session_id, photo_url, submitted_at
		FROM attendance
		WHERE classroom_id = $1 AND submitted_at >= $2 AND submitted_at < $3
		ORDER BY submitted_at DESC
	`, classroomID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBySessionIDs removes records belonging to the given sessions.
func (r *Repository) DeleteBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance WHERE session_id = ANY($1)
	`, sessionIDs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteForClassroomBetween removes a classroom's records submitted within
// [from, to).
func (r *Repository) DeleteForClassroomBetween(ctx context.Context, classroomID string, from, to time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance
		WHERE classroom_id = $1 AND submitted_at >= $2 AND submitted_at < $3
	`, classroomID, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountAll returns the total number of records.
func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance`).Scan(&n)
	return n, err
}

// CountBySessionIDs returns how many records belong to the given sessions.
func (r *Repository) CountBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance WHERE session_id = ANY($1)
	`, sessionIDs).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, rec *Record) error {
	return row.Scan(&rec.ID, &rec.ClassroomID, &rec.StudentID, &rec.StudentName, &rec.StudentEmail, &rec.SessionID, &rec.PhotoURL, &rec.SubmittedAt)
}
