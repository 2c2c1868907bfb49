package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"classattend/internal/clock"
)

// Manager owns the session state machine: a session is created active, ends
// exactly once (explicit stop, lazy expiry on a read, or cleanup deletion),
// and never reactivates.
type Manager struct {
	store          Store
	classrooms     ClassroomDirectory
	cache          Cache
	clock          clock.Clock
	defaultMinutes int
}

// NewManager creates a manager. cache may be nil; every read then goes to the
// store.
func NewManager(store Store, classrooms ClassroomDirectory, cache Cache, clk clock.Clock, defaultMinutes int) *Manager {
	if defaultMinutes <= 0 {
		defaultMinutes = 5
	}
	return &Manager{
		store:          store,
		classrooms:     classrooms,
		cache:          cache,
		clock:          clk,
		defaultMinutes: defaultMinutes,
	}
}

// Start opens a new session for the classroom, ending any session still
// active there. durationMinutes <= 0 selects the configured default.
func (m *Manager) Start(ctx context.Context, classroomID string, durationMinutes int) (StartResult, error) {
	ok, err := m.classrooms.Exists(ctx, classroomID)
	if err != nil {
		return StartResult{}, fmt.Errorf("classroom lookup: %w", err)
	}
	if !ok {
		return StartResult{}, ErrClassroomNotFound
	}

	if durationMinutes <= 0 {
		durationMinutes = m.defaultMinutes
	}

	now := m.clock.Now().UTC()
	s := Session{
		SessionID:       uuid.NewString(),
		ClassroomID:     classroomID,
		IsActive:        true,
		StartedAt:       now,
		ExpiresAt:       now.Add(time.Duration(durationMinutes) * time.Minute),
		DurationSeconds: durationMinutes * 60,
	}
	if err := m.store.StartSession(ctx, s); err != nil {
		return StartResult{}, err
	}
	m.cachePut(ctx, s)

	log.Printf("session %s started for classroom %s, expires %s", s.SessionID, classroomID, s.ExpiresAt.Format(time.RFC3339))

	return StartResult{
		SessionID:       s.SessionID,
		StartedAt:       s.StartedAt,
		ExpiresAt:       s.ExpiresAt,
		DurationMinutes: durationMinutes,
		ServerNow:       m.clock.Now().UTC(),
	}, nil
}

// Stop ends the classroom's active session. Stopping when nothing is active
// is not an error; the caller just learns wasActive=false.
func (m *Manager) Stop(ctx context.Context, classroomID string) (bool, error) {
	wasActive, err := m.store.DeactivateActive(ctx, classroomID, m.clock.Now().UTC())
	if err != nil {
		return false, err
	}
	m.cacheDelete(ctx, classroomID)
	if wasActive {
		log.Printf("session stopped for classroom %s", classroomID)
	}
	return wasActive, nil
}

// Status reports the active session's remaining time. When the deadline has
// passed the session is lazily flipped inactive here, so storage converges
// without any per-session timer.
func (m *Manager) Status(ctx context.Context, classroomID string) (Status, error) {
	s, err := m.Active(ctx, classroomID)
	if err != nil {
		return Status{}, err
	}
	if s == nil {
		return Status{IsActive: false, TimeRemaining: 0}, nil
	}

	remaining := remainingSeconds(s.ExpiresAt, m.clock.Now())
	if remaining == 0 {
		if err := m.Expire(ctx, s); err != nil {
			return Status{}, err
		}
	}
	return Status{
		IsActive:      remaining > 0,
		TimeRemaining: remaining,
		ExpiresAt:     &s.ExpiresAt,
		SessionID:     s.SessionID,
	}, nil
}

// Active returns the classroom's active session without expiry side effects,
// or nil when there is none. Reads through the cache.
func (m *Manager) Active(ctx context.Context, classroomID string) (*Session, error) {
	if m.cache != nil {
		if s, err := m.cache.Get(ctx, classroomID); err == nil && s != nil {
			return s, nil
		}
	}
	s, err := m.store.ActiveByClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	if s != nil {
		m.cachePut(ctx, *s)
	}
	return s, nil
}

// Expire flips a session inactive because its deadline passed. The store
// update is conditional on the active flag, so concurrent expiry attempts
// collapse to one effective write.
func (m *Manager) Expire(ctx context.Context, s *Session) error {
	now := m.clock.Now().UTC()
	flipped, err := m.store.Deactivate(ctx, s.SessionID, now)
	if err != nil {
		return err
	}
	m.cacheDelete(ctx, s.ClassroomID)
	if flipped {
		log.Printf("session %s expired for classroom %s", s.SessionID, s.ClassroomID)
	}
	return nil
}

func (m *Manager) cachePut(ctx context.Context, s Session) {
	if m.cache == nil {
		return
	}
	_ = m.cache.Put(ctx, s, s.ExpiresAt.Sub(m.clock.Now()))
}

func (m *Manager) cacheDelete(ctx context.Context, classroomID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, classroomID); err != nil {
		log.Printf("session cache delete failed for classroom %s: %v", classroomID, err)
	}
}

// remainingSeconds rounds up to whole seconds and clamps at zero, so clients
// never see 0 while any time remains.
func remainingSeconds(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	secs := int((remaining + time.Second - 1) / time.Second)
	return secs
}
