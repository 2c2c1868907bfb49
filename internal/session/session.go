package session

import (
	"context"
	"errors"
	"time"
)

// ErrClassroomNotFound is returned by Start when the classroom id does not
// resolve against the classroom directory.
var ErrClassroomNotFound = errors.New("classroom not found")

// Session is one bounded attendance window for a classroom.
//
// ExpiresAt is an absolute instant computed once at creation. Expiry is
// decided by comparing against it, never by counting down a duration, so
// process restarts and clock granularity cannot drift the deadline.
type Session struct {
	SessionID       string     `json:"sessionId"`
	ClassroomID     string     `json:"classroomId"`
	IsActive        bool       `json:"isActive"`
	StartedAt       time.Time  `json:"startedAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
}

// StartResult is returned to the teacher when a session opens. ServerNow lets
// clients measure clock drift against the server before rendering countdowns.
type StartResult struct {
	SessionID       string    `json:"sessionId"`
	StartedAt       time.Time `json:"startedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	DurationMinutes int       `json:"durationMinutes"`
	ServerNow       time.Time `json:"serverNow"`
}

// Status describes the session state as seen at one instant. TimeRemaining is
// whole seconds, rounded up so a session never reads 0 while time remains.
type Status struct {
	IsActive      bool       `json:"isActive"`
	TimeRemaining int        `json:"timeRemaining"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
}

// Store is the persistence contract the manager needs. Implemented by
// Repository; tests substitute an in-memory version.
type Store interface {
	// ActiveByClassroom returns the active session for a classroom, or
	// (nil, nil) when there is none.
	ActiveByClassroom(ctx context.Context, classroomID string) (*Session, error)
	// StartSession atomically deactivates any active session for the
	// classroom (stamping endedAt) and inserts s as the new active one.
	StartSession(ctx context.Context, s Session) error
	// DeactivateActive ends the active session for a classroom, if any,
	// and reports whether one was active.
	DeactivateActive(ctx context.Context, classroomID string, endedAt time.Time) (bool, error)
	// Deactivate ends the session by id only if it is still flagged
	// active; a second concurrent call matches nothing and returns false.
	Deactivate(ctx context.Context, sessionID string, endedAt time.Time) (bool, error)
}

// ClassroomDirectory is the collaborator answering classroom existence.
type ClassroomDirectory interface {
	Exists(ctx context.Context, classroomID string) (bool, error)
}

// Cache holds active-session descriptors for the status-poll hot path.
// All methods are best effort; callers fall through to the Store on any
// miss or error.
type Cache interface {
	Get(ctx context.Context, classroomID string) (*Session, error)
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Delete(ctx context.Context, classroomID string) error
}
