// Package transcribe turns live speech segments into shared captions, keeps
// a local transcript log, and can summarize a finished meeting.
package transcribe

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Line is one finalized transcript line.
type Line struct {
	RoomID string
	UserID string
	Name   string
	Text   string
	At     time.Time
}

// Store is the local transcript log, one SQLite file per profile directory.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenStore opens or creates the transcript database in dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	path := filepath.Join(dir, "transcripts.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure transcript db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lines (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name    TEXT NOT NULL,
			text    TEXT NOT NULL,
			at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS lines_room_at ON lines (room_id, at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create lines table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Append records one finalized line.
func (s *Store) Append(ctx context.Context, l Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lines (room_id, user_id, name, text, at) VALUES (?, ?, ?, ?, ?)
	`, l.RoomID, l.UserID, l.Name, l.Text, l.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("append line: %w", err)
	}
	return nil
}

// Lines returns the transcript of one room in chronological order.
func (s *Store) Lines(ctx context.Context, roomID string) ([]Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, name, text, at FROM lines
		WHERE room_id = ? ORDER BY at, id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		var at int64
		if err := rows.Scan(&l.RoomID, &l.UserID, &l.Name, &l.Text, &at); err != nil {
			return nil, err
		}
		l.At = time.UnixMilli(at)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Purge drops the transcript of one room.
func (s *Store) Purge(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM lines WHERE room_id = ?`, roomID)
	return err
}
