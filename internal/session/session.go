package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned by stores when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the persisted form of a session
type Snapshot struct {
	ID            string    `json:"id"`
	StartTime     time.Time `json:"start_time"`
	LastSeen      time.Time `json:"last_seen"`
	Page          Page      `json:"page"`
	Messages      []Message `json:"messages"`
	NutritionPlan string    `json:"nutrition_plan,omitempty"`
}

// Journal receives every change made to a live session.
type Journal interface {
	AppendMessage(sessionID string, msg Message) error
	SetPage(sessionID string, page Page) error
	SetNutritionPlan(sessionID string, plan string) error
	Touch(sessionID string, at time.Time) error
}

// Session is the state owned by one browser. Handlers hold Lock for the
// whole interaction so a session never processes two interactions at once.
type Session struct {
	ID        string
	StartTime time.Time

	turn sync.Mutex

	mu            sync.RWMutex
	page          Page
	messages      []Message
	nutritionPlan string
	lastSeen      time.Time
	pageCtx       context.Context
	pageCancel    context.CancelFunc
	ended         bool

	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

func newSession(snap Snapshot, journal Journal, logger *slog.Logger, now func() time.Time) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	msgs := make([]Message, len(snap.Messages))
	copy(msgs, snap.Messages)

	s := &Session{
		ID:            snap.ID,
		StartTime:     snap.StartTime,
		page:          snap.Page,
		messages:      msgs,
		nutritionPlan: snap.NutritionPlan,
		lastSeen:      snap.LastSeen,
		journal:       journal,
		logger:        logger,
		now:           now,
	}
	s.pageCtx, s.pageCancel = context.WithCancel(context.Background())
	return s
}

// New returns a session on the Home page with an empty history. A nil
// journal keeps the session in memory only.
func New(id string, journal Journal, logger *slog.Logger) *Session {
	now := time.Now()
	return newSession(Snapshot{ID: id, StartTime: now, LastSeen: now, Page: PageHome}, journal, logger, time.Now)
}

// Lock starts an interaction.
func (s *Session) Lock() {
	s.turn.Lock()
}

// Unlock ends an interaction.
func (s *Session) Unlock() {
	s.turn.Unlock()
}

// NutritionPlan returns the last generated plan, or "" if none exists.
func (s *Session) NutritionPlan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nutritionPlan
}

// SetNutritionPlan replaces the last generated plan.
func (s *Session) SetNutritionPlan(plan string) {
	s.mu.Lock()
	s.nutritionPlan = plan
	s.mu.Unlock()

	s.persist("set nutrition plan", func(j Journal) error {
		return j.SetNutritionPlan(s.ID, plan)
	})
}

// Touch records activity at the current time.
func (s *Session) Touch() {
	now := s.now()
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()

	s.persist("touch", func(j Journal) error {
		return j.Touch(s.ID, now)
	})
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Snapshot returns a copy of the session's state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ID:            s.ID,
		StartTime:     s.StartTime,
		LastSeen:      s.lastSeen,
		Page:          s.page,
		Messages:      msgs,
		NutritionPlan: s.nutritionPlan,
	}
}

// End cancels every task bound to the session. It is safe to call twice.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.pageCancel()
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// persist forwards a change to the journal. Failures are logged; the
// in-memory state stays authoritative for the live session.
func (s *Session) persist(op string, fn func(Journal) error) {
	if s.journal == nil {
		return
	}
	if err := fn(s.journal); err != nil {
		s.logger.Warn("failed to persist session change", "session_id", s.ID, "op", op, "error", err)
	}
}
