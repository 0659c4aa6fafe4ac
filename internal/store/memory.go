package store

import (
	"sync"
	"time"

	"VirtualDoctor/internal/session"
)

// Memory keeps sessions in process memory. It is used when no database path
// is configured and in tests.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]session.Snapshot
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]session.Snapshot),
	}
}

func (m *Memory) Create(snap session.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Messages = append([]session.Message(nil), snap.Messages...)
	m.sessions[snap.ID] = snap
	return nil
}

func (m *Memory) Load(id string) (session.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.sessions[id]
	if !ok {
		return session.Snapshot{}, session.ErrNotFound
	}
	snap.Messages = append([]session.Message{}, snap.Messages...)
	return snap, nil
}

func (m *Memory) AppendMessage(sessionID string, msg session.Message) error {
	return m.update(sessionID, func(snap *session.Snapshot) {
		snap.Messages = append(snap.Messages, msg)
	})
}

func (m *Memory) SetPage(sessionID string, page session.Page) error {
	return m.update(sessionID, func(snap *session.Snapshot) {
		snap.Page = page
	})
}

func (m *Memory) SetNutritionPlan(sessionID, plan string) error {
	return m.update(sessionID, func(snap *session.Snapshot) {
		snap.NutritionPlan = plan
	})
}

func (m *Memory) Touch(sessionID string, at time.Time) error {
	return m.update(sessionID, func(snap *session.Snapshot) {
		snap.LastSeen = at
	})
}

func (m *Memory) update(id string, fn func(*session.Snapshot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	fn(&snap)
	m.sessions[id] = snap
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) DeleteIdle(before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, snap := range m.sessions {
		if snap.LastSeen.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
