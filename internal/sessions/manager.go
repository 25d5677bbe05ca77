package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Session is one conversation's history plus its exclusive-access slot.
// History may only be touched between Manager.Acquire and Manager.Release.
type Session struct {
	ID string

	lock    chan struct{}
	history *History
	loaded  bool
	cleared bool

	// guarded by Manager.mu
	refs     int
	lastUsed time.Time
	turns    int
	tokens   int
}

// History returns the session's history. The caller must hold the session.
func (s *Session) History() *History { return s.history }

// Info is a read-only view of a session for listings.
type Info struct {
	ID          string    `json:"id"`
	Turns       int       `json:"turns"`
	TotalTokens int       `json:"total_tokens"`
	LastUsed    time.Time `json:"last_used"`
	InUse       bool      `json:"in_use"`
}

// ManagerStats aggregates all live sessions.
type ManagerStats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalTurns     int `json:"total_turns"`
	TotalTokens    int `json:"total_tokens"`
}

// Manager maps session ids to sessions. Work on one session is serialized;
// different sessions proceed in parallel.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxTokens int
	store     SnapshotStore
	idleTTL   time.Duration
	now       func() time.Time

	onCreate func(id string)
	onEvict  func(id string)

	cron *cron.Cron
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore enables snapshot restore on first use and Persist.
func WithStore(store SnapshotStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithIdleTTL sets how long an unused session stays in memory. 0 keeps sessions forever.
func WithIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTTL = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithHooks registers callbacks for session creation and idle eviction.
func WithHooks(onCreate, onEvict func(id string)) ManagerOption {
	return func(m *Manager) {
		m.onCreate = onCreate
		m.onEvict = onEvict
	}
}

// NewManager creates a Manager whose histories are bounded by maxTokens.
func NewManager(maxTokens int, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:  make(map[string]*Session),
		maxTokens: maxTokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the session for id, creating it if unseen, and blocks until
// the caller holds it exclusively or ctx is done. The first holder of a new
// session restores its snapshot from the store, if any.
func (m *Manager) Acquire(ctx context.Context, id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	for {
		s, created := m.ref(id)
		if created && m.onCreate != nil {
			m.onCreate(id)
		}

		select {
		case s.lock <- struct{}{}:
		case <-ctx.Done():
			m.unref(s)
			return nil, ctx.Err()
		}

		if s.cleared {
			// Cleared while we waited; start over on a fresh entry.
			m.unref(s)
			<-s.lock
			continue
		}

		if !s.loaded {
			s.loaded = true
			m.restore(ctx, s)
		}
		return s, nil
	}
}

// Release hands the session back and records its current size.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	s.refs--
	s.lastUsed = m.now()
	s.turns = s.history.Len()
	s.tokens = s.history.TotalTokens()
	m.mu.Unlock()
	<-s.lock
}

// Do runs fn while holding the session for id.
func (m *Manager) Do(ctx context.Context, id string, fn func(*Session) error) error {
	s, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer m.Release(s)
	return fn(s)
}

// Persist saves a snapshot of s. The caller must hold s. A manager without
// a store persists nothing.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, s.history.Snapshot(s.ID)); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	return nil
}

// Clear forgets the session and deletes its snapshot. It holds the session
// for the whole operation, so it waits for any in-flight exchange and an
// Acquire racing it only gets a fresh session once the snapshot is gone.
// It reports whether anything existed.
func (m *Manager) Clear(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}

	s, _ := m.ref(id)
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		m.drop(s)
		return false, ctx.Err()
	}
	defer func() {
		m.drop(s)
		<-s.lock
	}()

	existed := s.loaded
	s.history.Clear()

	if m.store != nil {
		snap, err := m.store.Load(ctx, id)
		if err != nil {
			return existed, fmt.Errorf("load snapshot: %w", err)
		}
		if snap != nil {
			existed = true
			if err := m.store.Delete(ctx, id); err != nil {
				return existed, fmt.Errorf("delete snapshot: %w", err)
			}
		}
	}

	// Waiters see the tombstone and start over on a fresh entry.
	s.cleared = true
	slog.Info("session cleared", "session_id", id, "existed", existed)
	return existed, nil
}

// drop releases Clear's reference and removes the entry once it is a
// tombstone or an unused, never loaded placeholder.
func (m *Manager) drop(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if m.sessions[s.ID] != s {
		return
	}
	if s.cleared || (s.refs == 0 && !s.loaded) {
		delete(m.sessions, s.ID)
	}
}

// Stats aggregates every live session.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ManagerStats{ActiveSessions: len(m.sessions)}
	for _, s := range m.sessions {
		st.TotalTurns += s.turns
		st.TotalTokens += s.tokens
	}
	return st
}

// List returns live sessions, most recently used first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{
			ID:          s.ID,
			Turns:       s.turns,
			TotalTokens: s.tokens,
			LastUsed:    s.lastUsed,
			InUse:       s.refs > 0,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsed.After(out[j].LastUsed)
	})
	return out
}

// Sweep drops sessions idle for longer than the idle TTL and returns their ids.
// Sessions in use are never dropped. Snapshots stay in the store.
func (m *Manager) Sweep() []string {
	if m.idleTTL <= 0 {
		return nil
	}
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var evicted []string
	for id, s := range m.sessions {
		if s.refs == 0 && s.lastUsed.Before(cutoff) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	for _, id := range evicted {
		slog.Debug("idle session evicted", "session_id", id)
		if m.onEvict != nil {
			m.onEvict(id)
		}
	}
	if len(evicted) > 0 {
		slog.Info("idle sessions swept", "count", len(evicted))
	}
	return evicted
}

// StartSweeper runs Sweep on a cron schedule ("@every 10m", "0 * * * *").
func (m *Manager) StartSweeper(schedule string) error {
	if m.idleTTL <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.Sweep() }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	slog.Info("session sweeper started", "schedule", schedule, "idle_ttl", m.idleTTL)
	return nil
}

// Stop halts the sweeper, waiting for a running sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (m *Manager) ref(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			ID:       id,
			lock:     make(chan struct{}, 1),
			history:  NewHistory(m.maxTokens),
			lastUsed: m.now(),
		}
		s.history.now = m.now
		m.sessions[id] = s
	}
	s.refs++
	return s, !ok
}

func (m *Manager) unref(s *Session) {
	m.mu.Lock()
	s.refs--
	m.mu.Unlock()
}

func (m *Manager) restore(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	snap, err := m.store.Load(ctx, s.ID)
	if err != nil {
		slog.Warn("restore session snapshot", "session_id", s.ID, "error", err)
		return
	}
	if snap == nil {
		return
	}
	s.history.Restore(snap)
	slog.Info("session restored", "session_id", s.ID, "turns", s.history.Len())
}
