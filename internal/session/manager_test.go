package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"classattend/internal/clock"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) ActiveByClassroom(_ context.Context, classroomID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClassroomID == classroomID && s.IsActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) StartSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, old := range m.sessions {
		if old.ClassroomID == s.ClassroomID && old.IsActive {
			old.IsActive = false
			ended := s.StartedAt
			old.EndedAt = &ended
		}
	}
	cp := s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *memStore) DeactivateActive(_ context.Context, classroomID string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hit bool
	for _, s := range m.sessions {
		if s.ClassroomID == classroomID && s.IsActive {
			s.IsActive = false
			ended := endedAt
			s.EndedAt = &ended
			hit = true
		}
	}
	return hit, nil
}

func (m *memStore) Deactivate(_ context.Context, sessionID string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	ended := endedAt
	s.EndedAt = &ended
	return true, nil
}

func (m *memStore) get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *memStore) activeCount(classroomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.ClassroomID == classroomID && s.IsActive {
			n++
		}
	}
	return n
}

type stubDirectory struct {
	known map[string]bool
}

func (d *stubDirectory) Exists(_ context.Context, classroomID string) (bool, error) {
	return d.known[classroomID], nil
}

func newTestManager(t *testing.T) (*Manager, *memStore, *clock.Manual) {
	t.Helper()
	st := newMemStore()
	dir := &stubDirectory{known: map[string]bool{"c1": true, "c2": true}}
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewManager(st, dir, nil, clk, 5), st, clk
}

func TestStartUnknownClassroom(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Start(context.Background(), "ghost", 5); err != ErrClassroomNotFound {
		t.Fatalf("expected ErrClassroomNotFound, got %v", err)
	}
}

func TestStartComputesAbsoluteExpiry(t *testing.T) {
	m, st, clk := newTestManager(t)
	res, err := m.Start(context.Background(), "c1", 1)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got, want := res.ExpiresAt, res.StartedAt.Add(time.Minute); !got.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", got, want)
	}
	if !res.ServerNow.Equal(clk.Now()) {
		t.Errorf("serverNow = %v, want %v", res.ServerNow, clk.Now())
	}
	s := st.get(res.SessionID)
	if s == nil || !s.IsActive {
		t.Fatalf("session not stored active: %+v", s)
	}
	if s.DurationSeconds != 60 {
		t.Errorf("durationSeconds = %d, want 60", s.DurationSeconds)
	}
}

func TestStartDefaultDuration(t *testing.T) {
	m, _, _ := newTestManager(t)
	res, err := m.Start(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if res.DurationMinutes != 5 {
		t.Errorf("durationMinutes = %d, want default 5", res.DurationMinutes)
	}
}

func TestStartDeactivatesPriorSession(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx, "c1", 5)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := m.Start(ctx, "c1", 5)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	old := st.get(first.SessionID)
	if old.IsActive {
		t.Error("prior session still active after restart")
	}
	if old.EndedAt == nil {
		t.Error("prior session has no endedAt")
	}
	if n := st.activeCount("c1"); n != 1 {
		t.Errorf("active sessions = %d, want 1", n)
	}
	if cur := st.get(second.SessionID); !cur.IsActive {
		t.Error("new session not active")
	}
}

func TestStatusNoSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	status, err := m.Status(context.Background(), "c1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.IsActive || status.TimeRemaining != 0 {
		t.Errorf("status = %+v, want inactive with 0 remaining", status)
	}
}

func TestStatusTimeRemaining(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, "c1", 5); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status, err := m.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.IsActive {
		t.Error("expected active session")
	}
	if status.TimeRemaining != 300 {
		t.Errorf("timeRemaining = %d, want 300", status.TimeRemaining)
	}

	// Partial seconds round up so the countdown never reads low.
	clk.Advance(500 * time.Millisecond)
	status, err = m.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TimeRemaining != 300 {
		t.Errorf("timeRemaining after 500ms = %d, want 300 (ceiling)", status.TimeRemaining)
	}

	clk.Advance(90*time.Second + 500*time.Millisecond)
	status, err = m.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.TimeRemaining != 209 {
		t.Errorf("timeRemaining = %d, want 209", status.TimeRemaining)
	}
}

func TestStatusLazyExpiry(t *testing.T) {
	m, st, clk := newTestManager(t)
	ctx := context.Background()

	res, err := m.Start(ctx, "c1", 1)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	clk.Advance(61 * time.Second)

	status, err := m.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.IsActive || status.TimeRemaining != 0 {
		t.Errorf("status after expiry = %+v, want inactive/0", status)
	}

	s := st.get(res.SessionID)
	if s.IsActive {
		t.Error("expired session still flagged active in store")
	}
	if s.EndedAt == nil {
		t.Error("expired session has no endedAt")
	}

	// Repeated reads stay inactive and change nothing.
	status, err = m.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("second status failed: %v", err)
	}
	if status.IsActive || status.TimeRemaining != 0 {
		t.Errorf("repeated status = %+v, want inactive/0", status)
	}
}

func TestStopIdempotent(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	wasActive, err := m.Stop(ctx, "c1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if wasActive {
		t.Error("stop with no session reported wasActive=true")
	}

	res, err := m.Start(ctx, "c1", 5)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	wasActive, err = m.Stop(ctx, "c1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !wasActive {
		t.Error("stop of active session reported wasActive=false")
	}
	if s := st.get(res.SessionID); s.IsActive || s.EndedAt == nil {
		t.Errorf("stopped session = %+v, want inactive with endedAt", s)
	}

	wasActive, err = m.Stop(ctx, "c1")
	if err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if wasActive {
		t.Error("second stop reported wasActive=true")
	}
}

func TestSessionsIndependentPerClassroom(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Start(ctx, "c1", 5); err != nil {
		t.Fatalf("start c1 failed: %v", err)
	}
	if _, err := m.Start(ctx, "c2", 5); err != nil {
		t.Fatalf("start c2 failed: %v", err)
	}
	if _, err := m.Stop(ctx, "c1"); err != nil {
		t.Fatalf("stop c1 failed: %v", err)
	}
	if n := st.activeCount("c2"); n != 1 {
		t.Errorf("c2 active sessions = %d, want 1 after stopping c1", n)
	}
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]Session
	puts    int
	gets    int
	deletes int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]Session)}
}

func (c *memCache) Get(_ context.Context, classroomID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	s, ok := c.entries[classroomID]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (c *memCache) Put(_ context.Context, s Session, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if ttl > 0 {
		c.entries[s.ClassroomID] = s
	}
	return nil
}

func (c *memCache) Delete(_ context.Context, classroomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, classroomID)
	return nil
}

func TestCacheLifecycle(t *testing.T) {
	st := newMemStore()
	dir := &stubDirectory{known: map[string]bool{"c1": true}}
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	cache := newMemCache()
	m := NewManager(st, dir, cache, clk, 5)
	ctx := context.Background()

	if _, err := m.Start(ctx, "c1", 5); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if cache.puts == 0 {
		t.Error("start did not populate the cache")
	}

	if _, err := m.Status(ctx, "c1"); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if cache.gets == 0 {
		t.Error("status did not consult the cache")
	}

	if _, err := m.Stop(ctx, "c1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(cache.entries) != 0 {
		t.Error("stop left a cached descriptor behind")
	}

	// Expiry must also purge the cache, or polls would keep seeing the
	// stale descriptor until its TTL.
	if _, err := m.Start(ctx, "c1", 1); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := m.Status(ctx, "c1"); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if len(cache.entries) != 0 {
		t.Error("lazy expiry left a cached descriptor behind")
	}
}

func TestStatusAfterCleanupWipe(t *testing.T) {
	st := newMemStore()
	dir := &stubDirectory{known: map[string]bool{"c1": true}}
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	cache := newMemCache()
	m := NewManager(st, dir, cache, clk, 5)
	ctx := context.Background()

	res, err := m.Start(ctx, "c1", 60)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// A cleanup wipe removes the row and purges the classroom's cache entry
	// mid-session. Status must then fall through to the store and report no
	// session, not keep serving the deleted descriptor until its TTL lapses.
	st.mu.Lock()
	delete(st.sessions, res.SessionID)
	st.mu.Unlock()
	if err := cache.Delete(ctx, "c1"); err != nil {
		t.Fatalf("cache purge failed: %v", err)
	}

	status, err := m.Status(ctx, "c1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.IsActive || status.TimeRemaining != 0 {
		t.Errorf("status after wipe = %+v, want inactive/0", status)
	}

	if active, err := m.Active(ctx, "c1"); err != nil || active != nil {
		t.Errorf("Active after wipe = %v, %v, want nil session", active, err)
	}
}
