package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kiku/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event TEXT NOT NULL,
		filename TEXT NOT NULL,
		chunk_count INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, id);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordRegistration inserts ev. CreatedAt defaults to now.
func (s *SQLiteLedger) RecordRegistration(ctx context.Context, ev *models.SessionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event, filename, chunk_count, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Event), ev.Filename, ev.ChunkCount, ev.ContentHash, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// History returns the events recorded for sessionID in insertion order.
func (s *SQLiteLedger) History(ctx context.Context, sessionID string) ([]*models.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event, filename, chunk_count, content_hash, created_at
		 FROM session_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SessionEvent, 0)
	for rows.Next() {
		var ev models.SessionEvent
		var event string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &event, &ev.Filename, &ev.ChunkCount,
			&ev.ContentHash, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		ev.Event = models.SessionEventType(event)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CountEvents returns the total number of recorded events.
func (s *SQLiteLedger) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_events").Scan(&count)
	return count, err
}

// Close closes the database.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
