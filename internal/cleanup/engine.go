package cleanup

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classattend/internal/attendance"
	"classattend/internal/clock"
)

var (
	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classattend_cleanup_sweeps_total",
		Help: "Cleanup sweep executions by outcome.",
	}, []string{"result"})
	deletedSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_cleanup_deleted_sessions_total",
		Help: "Sessions deleted by cleanup.",
	})
	deletedAttendanceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classattend_cleanup_deleted_attendance_total",
		Help: "Attendance records deleted by cleanup.",
	})
)

// SessionStore is the slice of the session repository cleanup needs.
type SessionStore interface {
	IDsStartedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	ClassroomsStartedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	IDsForClassroomBetween(ctx context.Context, classroomID string, from, to time.Time) ([]string, error)
	DeleteForClassroomBetween(ctx context.Context, classroomID string, from, to time.Time) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountStartedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AttendanceStore is the slice of the attendance repository cleanup needs.
type AttendanceStore interface {
	DeleteBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error)
	DeleteForClassroomBetween(ctx context.Context, classroomID string, from, to time.Time) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error)
}

// Cache drops cached session descriptors for a classroom. Satisfied by
// session.RedisCache. Without this, a wiped session would keep serving from
// the cache until its TTL, reopening submissions against deleted data.
type Cache interface {
	Delete(ctx context.Context, classroomID string) error
}

// Result reports what one cleanup pass removed.
type Result struct {
	DeletedSessions   int64 `json:"deletedSessions"`
	DeletedAttendance int64 `json:"deletedAttendance"`
}

// Stats is a read-only snapshot of data age relative to the sweep cutoff.
type Stats struct {
	TotalSessions         int64     `json:"totalSessions"`
	OldSessions           int64     `json:"oldSessions"`
	RecentSessions        int64     `json:"recentSessions"`
	TotalAttendance       int64     `json:"totalAttendance"`
	OldAttendanceCount    int64     `json:"oldAttendanceCount"`
	RecentAttendanceCount int64     `json:"recentAttendanceCount"`
	CutoffTime            time.Time `json:"cutoffTime"`
	CleanupDelay          string    `json:"cleanupDelay"`
	CheckInterval         string    `json:"checkInterval"`
}

// Engine deletes sessions older than the grace period, together with their
// attendance records. It runs on a ticker between explicit Start and Stop
// calls and can also be invoked on demand.
type Engine struct {
	sessions   SessionStore
	attendance AttendanceStore
	cache      Cache
	clock      clock.Clock
	delay      time.Duration
	interval   time.Duration
	loc        *time.Location

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine. cache may be nil when no session cache is
// wired. delay is the grace period past a session's creation; interval is how
// often the sweep runs. loc fixes the calendar day for FinishSession; nil
// means UTC.
func NewEngine(sessions SessionStore, attendance AttendanceStore, cache Cache, clk clock.Clock, delay, interval time.Duration, loc *time.Location) *Engine {
	if delay <= 0 {
		delay = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		sessions:   sessions,
		attendance: attendance,
		cache:      cache,
		clock:      clk,
		delay:      delay,
		interval:   interval,
		loc:        loc,
	}
}

// Start launches the background sweep loop. Calling Start on a running
// engine is a no-op, so boot paths cannot double the ticker.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, e.done)
	log.Printf("cleanup engine started: sweep every %s, delete sessions older than %s", e.interval, e.delay)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
// Stopping a stopped engine is a no-op, and Start may be called again after.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("cleanup engine stopped")
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// First pass immediately; the ticker covers the rest.
	e.sweepTick(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweepTick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweepTick runs one sweep and swallows the error: a failed sweep is logged
// and retried next tick, never fatal.
func (e *Engine) sweepTick(ctx context.Context) {
	res, err := e.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		sweepsTotal.WithLabelValues("error").Inc()
		log.Printf("cleanup sweep failed: %v", err)
		return
	}
	sweepsTotal.WithLabelValues("ok").Inc()
	if res.DeletedSessions > 0 || res.DeletedAttendance > 0 {
		log.Printf("cleanup sweep: deleted %d sessions, %d attendance records", res.DeletedSessions, res.DeletedAttendance)
	}
}

// Sweep deletes every session started before now-delay along with its
// attendance, attendance first so a crash mid-pass never strands records
// whose session is already gone. Re-running it is idempotent: deleted rows
// simply no longer match.
func (e *Engine) Sweep(ctx context.Context) (Result, error) {
	cutoff := e.clock.Now().UTC().Add(-e.delay)

	ids, err := e.sessions.IDsStartedBefore(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		return Result{}, nil
	}
	// Resolve the owning classrooms before the rows disappear; their cached
	// descriptors must not outlive the sessions they describe.
	classrooms, err := e.sessions.ClassroomsStartedBefore(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}

	deletedAttendance, err := e.attendance.DeleteBySessionIDs(ctx, ids)
	if err != nil {
		return Result{}, err
	}
	deletedSessions, err := e.sessions.DeleteByIDs(ctx, ids)
	if err != nil {
		return Result{DeletedAttendance: deletedAttendance}, err
	}
	e.invalidate(ctx, classrooms)

	deletedSessionsTotal.Add(float64(deletedSessions))
	deletedAttendanceTotal.Add(float64(deletedAttendance))
	return Result{DeletedSessions: deletedSessions, DeletedAttendance: deletedAttendance}, nil
}

// invalidate purges cached descriptors for the given classrooms. Failures are
// logged, not returned: the rows are already gone and a stale entry ages out
// on its TTL.
func (e *Engine) invalidate(ctx context.Context, classroomIDs []string) {
	if e.cache == nil {
		return
	}
	for _, id := range classroomIDs {
		if err := e.cache.Delete(ctx, id); err != nil {
			log.Printf("cleanup: session cache invalidation failed for classroom %s: %v", id, err)
		}
	}
}

// Stats reports data age relative to the current cutoff without mutating
// anything.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	cutoff := e.clock.Now().UTC().Add(-e.delay)

	totalSessions, err := e.sessions.CountAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	oldSessions, err := e.sessions.CountStartedBefore(ctx, cutoff)
	if err != nil {
		return Stats{}, err
	}
	totalAttendance, err := e.attendance.CountAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	oldIDs, err := e.sessions.IDsStartedBefore(ctx, cutoff)
	if err != nil {
		return Stats{}, err
	}
	oldAttendance, err := e.attendance.CountBySessionIDs(ctx, oldIDs)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalSessions:         totalSessions,
		OldSessions:           oldSessions,
		RecentSessions:        totalSessions - oldSessions,
		TotalAttendance:       totalAttendance,
		OldAttendanceCount:    oldAttendance,
		RecentAttendanceCount: totalAttendance - oldAttendance,
		CutoffTime:            cutoff,
		CleanupDelay:          e.delay.String(),
		CheckInterval:         e.interval.String(),
	}, nil
}

// FinishSession is the teacher's immediate "wipe today's data" action for one
// classroom: today's sessions and attendance go away now, no grace period.
// Bounded by the calendar day, not the cutoff, so it never touches yesterday.
func (e *Engine) FinishSession(ctx context.Context, classroomID string) (Result, error) {
	from, to := attendance.DayWindow(e.clock.Now(), e.loc)

	ids, err := e.sessions.IDsForClassroomBetween(ctx, classroomID, from, to)
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		return Result{}, nil
	}

	deletedAttendance, err := e.attendance.DeleteForClassroomBetween(ctx, classroomID, from, to)
	if err != nil {
		return Result{}, err
	}
	deletedSessions, err := e.sessions.DeleteForClassroomBetween(ctx, classroomID, from, to)
	if err != nil {
		return Result{DeletedAttendance: deletedAttendance}, err
	}
	e.invalidate(ctx, []string{classroomID})

	deletedSessionsTotal.Add(float64(deletedSessions))
	deletedAttendanceTotal.Add(float64(deletedAttendance))
	log.Printf("finish-session cleanup for classroom %s: deleted %d sessions, %d attendance records", classroomID, deletedSessions, deletedAttendance)
	return Result{DeletedSessions: deletedSessions, DeletedAttendance: deletedAttendance}, nil
}
