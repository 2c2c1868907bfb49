package attendance

import (
	"context"
	"errors"
	"time"

	"classattend/internal/session"
)

var (
	// ErrNoActiveSession means the classroom has no open session to submit to.
	ErrNoActiveSession = errors.New("no active attendance session")
	// ErrSessionExpired means the session's deadline passed before the submission.
	ErrSessionExpired = errors.New("attendance session has expired")
	// ErrDuplicateSubmission means the student already has a record for today
	// (or lost a same-session insert race).
	ErrDuplicateSubmission = errors.New("attendance already submitted today")
	// ErrMissingFields means required submission fields were absent.
	ErrMissingFields = errors.New("student id and photo are required")
)

// Record is one accepted attendance submission. Records are immutable: they
// are inserted once and only ever deleted by cleanup.
type Record struct {
	ID           string    `json:"id"`
	ClassroomID  string    `json:"classroomId"`
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName"`
	StudentEmail string    `json:"studentEmail"`
	SessionID    string    `json:"sessionId"`
	PhotoURL     string    `json:"photoUrl"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// Submission is a student's attempt to register presence. PhotoURL must
// already point at the uploaded photo; blob storage is not this package's
// concern.
type Submission struct {
	ClassroomID  string
	StudentID    string
	StudentName  string
	StudentEmail string
	PhotoURL     string
}

// Store is the persistence contract the guard needs.
type Store interface {
	// FindForDay returns any record for (classroom, student) submitted in
	// [from, to), or (nil, nil).
	FindForDay(ctx context.Context, classroomID, studentID string, from, to time.Time) (*Record, error)
	// Insert persists a record. A unique-constraint collision on
	// (classroom, student, session) surfaces as ErrDuplicateSubmission.
	Insert(ctx context.Context, rec Record) error
}

// Sessions is the slice of the session manager the guard consumes.
// *session.Manager satisfies it.
type Sessions interface {
	Active(ctx context.Context, classroomID string) (*session.Session, error)
	Expire(ctx context.Context, s *session.Session) error
}

// DayWindow returns [start, end) of the calendar day containing t in loc.
// All "same day" decisions in this system go through here so the timezone
// choice stays in one place.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
