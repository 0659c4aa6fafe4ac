package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions between requests and process restarts.
type Store interface {
	Journal
	Create(snap Snapshot) error
	Load(id string) (Snapshot, error)
	Delete(id string) error
	DeleteIdle(before time.Time) (int, error)
}

// Manager owns the live sessions. A session is created on first interaction
// and torn down by End or once it has been idle for the configured TTL.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewManager returns a Manager persisting through store (which may be nil).
func NewManager(store Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// journal avoids handing sessions a typed-nil interface.
func (m *Manager) journal() Journal {
	if m.store == nil {
		return nil
	}
	return m.store
}

// Create starts a new session on the Home page.
func (m *Manager) Create() (*Session, error) {
	now := m.now()
	snap := Snapshot{
		ID:        m.newID(),
		StartTime: now,
		LastSeen:  now,
		Page:      PageHome,
	}

	if m.store != nil {
		if err := m.store.Create(snap); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}

	sess := newSession(snap, m.journal(), m.logger, m.now)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("created new session", "session_id", sess.ID)
	return sess, nil
}

// Get returns the live session with id, restoring it from the store when
// it is not in memory. Expired sessions are torn down and reported missing.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()

	if ok {
		if m.expired(sess.LastSeen()) {
			m.end(sess.ID, sess)
			return nil, false
		}
		return sess, true
	}

	if m.store == nil {
		return nil, false
	}

	snap, err := m.store.Load(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("failed to load session", "session_id", id, "error", err)
		}
		return nil, false
	}
	if m.expired(snap.LastSeen) {
		m.end(id, nil)
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// another request may have restored it meanwhile
	if live, ok := m.sessions[id]; ok {
		return live, true
	}
	sess = newSession(snap, m.journal(), m.logger, m.now)
	m.sessions[id] = sess
	m.logger.Info("loaded existing session", "session_id", id, "message_count", len(snap.Messages))
	return sess, true
}

// Resolve returns the session with id, creating a new one when it does not
// exist. created reports whether a new session was made.
func (m *Manager) Resolve(id string) (sess *Session, created bool, err error) {
	if sess, ok := m.Get(id); ok {
		return sess, false, nil
	}
	sess, err = m.Create()
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// End tears down the session with id.
func (m *Manager) End(id string) {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()
	m.end(id, sess)
}

func (m *Manager) end(id string, sess *Session) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if sess != nil {
		sess.End()
	}
	if m.store != nil {
		if err := m.store.Delete(id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("failed to delete session", "session_id", id, "error", err)
		}
	}
	m.logger.Info("session ended", "session_id", id)
}

func (m *Manager) expired(lastSeen time.Time) bool {
	return m.ttl > 0 && m.now().Sub(lastSeen) > m.ttl
}

// Sweep ends every idle session and returns how many live sessions ended.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	var idle []*Session
	for _, sess := range m.sessions {
		if m.expired(sess.LastSeen()) {
			idle = append(idle, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		m.end(sess.ID, sess)
	}

	if m.store != nil && m.ttl > 0 {
		n, err := m.store.DeleteIdle(m.now().Add(-m.ttl))
		if err != nil {
			m.logger.Warn("failed to delete idle sessions", "error", err)
		} else if n > 0 {
			m.logger.Info("deleted idle persisted sessions", "count", n)
		}
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close cancels the tasks of every live session without deleting their
// persisted state, so they can be restored after a restart.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.End()
	}
}
