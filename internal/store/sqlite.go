package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"VirtualDoctor/internal/session"
)

// SQLite persists sessions and their messages in a SQLite database
type SQLite struct {
	db *sql.DB
}

const connParams = "_foreign_keys=on&_busy_timeout=5000"

// dsn appends the connection parameters to path, which may already be a
// file: URI carrying its own query.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + connParams
	}
	return path + "?" + connParams
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		start_time DATETIME,
		last_seen DATETIME,
		page TEXT NOT NULL DEFAULT 'home',
		nutrition_plan TEXT NOT NULL DEFAULT ''
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		role TEXT,
		content TEXT,
		timestamp DATETIME,
		FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);`

	createMessagesIndex := `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`

	for _, stmt := range []struct {
		name string
		sql  string
	}{
		{"sessions table", createSessionsTable},
		{"messages table", createMessagesTable},
		{"messages index", createMessagesIndex},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	return &SQLite{db: db}, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Create inserts a new session row with its messages
func (s *SQLite) Create(snap session.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO sessions (id, start_time, last_seen, page, nutrition_plan) VALUES (?, ?, ?, ?, ?)",
		snap.ID, snap.StartTime.UTC(), snap.LastSeen.UTC(), snap.Page.Slug(), snap.NutritionPlan,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for _, msg := range snap.Messages {
		if err := insertMessage(tx, snap.ID, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads a session and its messages in insertion order
func (s *SQLite) Load(id string) (session.Snapshot, error) {
	var (
		snap session.Snapshot
		page string
	)
	err := s.db.QueryRow(
		"SELECT id, start_time, last_seen, page, nutrition_plan FROM sessions WHERE id = ?", id,
	).Scan(&snap.ID, &snap.StartTime, &snap.LastSeen, &page, &snap.NutritionPlan)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, session.ErrNotFound
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to load session: %w", err)
	}

	snap.Page, err = session.ParsePage(page)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("session %s: %w", id, err)
	}

	rows, err := s.db.Query(
		"SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id",
		id,
	)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	snap.Messages = []session.Message{}
	for rows.Next() {
		var msg session.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return session.Snapshot{}, fmt.Errorf("failed to scan message: %w", err)
		}
		snap.Messages = append(snap.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to read messages: %w", err)
	}

	return snap, nil
}

// AppendMessage stores msg after every earlier message of the session
func (s *SQLite) AppendMessage(sessionID string, msg session.Message) error {
	return insertMessage(s.db, sessionID, msg)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertMessage(db execer, sessionID string, msg session.Message) error {
	_, err := db.Exec(
		"INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
		sessionID, msg.Role, msg.Content, msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// SetPage records the current page
func (s *SQLite) SetPage(sessionID string, page session.Page) error {
	return s.update("page", "UPDATE sessions SET page = ? WHERE id = ?", page.Slug(), sessionID)
}

// SetNutritionPlan records the last generated plan
func (s *SQLite) SetNutritionPlan(sessionID, plan string) error {
	return s.update("nutrition plan", "UPDATE sessions SET nutrition_plan = ? WHERE id = ?", plan, sessionID)
}

// Touch records the time of the last interaction
func (s *SQLite) Touch(sessionID string, at time.Time) error {
	return s.update("last seen", "UPDATE sessions SET last_seen = ? WHERE id = ?", at.UTC(), sessionID)
}

func (s *SQLite) update(what, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete removes a session and its messages
func (s *SQLite) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// DeleteIdle removes every session last seen before the cutoff
func (s *SQLite) DeleteIdle(before time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UTC()
	if _, err := tx.Exec(
		"DELETE FROM messages WHERE session_id IN (SELECT id FROM sessions WHERE last_seen < ?)", cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to delete idle messages: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE last_seen < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count idle sessions: %w", err)
	}
	return int(n), nil
}
