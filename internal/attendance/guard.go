package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classattend/internal/clock"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classattend_submissions_total",
	Help: "Attendance submission attempts by outcome.",
}, []string{"result"})

// Guard is the admission control for attendance submissions: a submission is
// accepted only against an unexpired active session, at most once per student
// per calendar day.
type Guard struct {
	sessions Sessions
	store    Store
	clock    clock.Clock
	loc      *time.Location
}

// NewGuard creates a guard. loc fixes the calendar-day boundary; nil means UTC.
func NewGuard(sessions Sessions, store Store, clk clock.Clock, loc *time.Location) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{sessions: sessions, store: store, clock: clk, loc: loc}
}

// Submit validates and records one submission. On success the record carries
// the session that was active at submission time.
//
// The day check here is the friendly fast path; the storage unique constraint
// on (classroom, student, session) settles any race two concurrent
// submissions slip through, and the loser gets the same ErrDuplicateSubmission.
func (g *Guard) Submit(ctx context.Context, sub Submission) (Record, error) {
	if sub.ClassroomID == "" || sub.StudentID == "" || sub.PhotoURL == "" {
		return Record{}, ErrMissingFields
	}

	active, err := g.sessions.Active(ctx, sub.ClassroomID)
	if err != nil {
		return Record{}, err
	}
	if active == nil {
		submissionsTotal.WithLabelValues("no_session").Inc()
		return Record{}, ErrNoActiveSession
	}

	now := g.clock.Now().UTC()
	if now.After(active.ExpiresAt) {
		if err := g.sessions.Expire(ctx, active); err != nil {
			log.Printf("lazy expiry during submit failed for session %s: %v", active.SessionID, err)
		}
		submissionsTotal.WithLabelValues("expired").Inc()
		return Record{}, ErrSessionExpired
	}

	dayStart, dayEnd := DayWindow(now, g.loc)
	existing, err := g.store.FindForDay(ctx, sub.ClassroomID, sub.StudentID, dayStart, dayEnd)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		submissionsTotal.WithLabelValues("duplicate").Inc()
		return Record{}, ErrDuplicateSubmission
	}

	rec := Record{
		ID:           uuid.NewString(),
		ClassroomID:  sub.ClassroomID,
		StudentID:    sub.StudentID,
		StudentName:  sub.StudentName,
		StudentEmail: sub.StudentEmail,
		SessionID:    active.SessionID,
		PhotoURL:     sub.PhotoURL,
		SubmittedAt:  now,
	}
	if err := g.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			submissionsTotal.WithLabelValues("duplicate").Inc()
		}
		return Record{}, err
	}

	submissionsTotal.WithLabelValues("accepted").Inc()
	log.Printf("attendance recorded: student %s classroom %s session %s", rec.StudentID, rec.ClassroomID, rec.SessionID)
	return rec, nil
}
