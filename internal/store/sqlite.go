// ABOUTME: SQLite ledger using modernc.org/sqlite, in memory unless a path is given
// ABOUTME: Keeps a bounded window of recent results and connection events

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultRetain is the number of rows kept per table.
const DefaultRetain = 500

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	retain int
	logger *slog.Logger
}

// NewSQLiteStore opens the ledger at path (MemoryPath for in-memory) keeping
// at most retain rows per table. Pass nil logger for default.
func NewSQLiteStore(path string, retain int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = MemoryPath
	}
	if retain <= 0 {
		retain = DefaultRetain
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every pooled connection to :memory: would be a separate database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, retain: retain, logger: logger.With("component", "store")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Debug("ledger initialized", "path", path, "retain", retain)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS results (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conn_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			action TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS connection_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conn_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_connection_events_conn
			ON connection_events(conn_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordResult appends r, filling ID and RecordedAt when unset.
func (s *SQLiteStore) RecordResult(ctx context.Context, r *ResultRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (id, conn_id, success, action, error, timestamp, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConnID, r.Success, r.Action, r.Error, r.Timestamp, r.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return s.trim(ctx, "results")
}

// RecentResults returns up to limit results, newest first. limit <= 0
// returns everything retained.
func (s *SQLiteStore) RecentResults(ctx context.Context, limit int) ([]*ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conn_id, success, action, error, timestamp, recorded_at
		FROM results
		ORDER BY seq DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []*ResultRecord
	for rows.Next() {
		var r ResultRecord
		var recordedAt int64
		if err := rows.Scan(&r.ID, &r.ConnID, &r.Success, &r.Action, &r.Error, &r.Timestamp, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// RecordConnection appends ev, filling ID and At when unset.
func (s *SQLiteStore) RecordConnection(ctx context.Context, ev *ConnectionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_events (id, conn_id, kind, detail, at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.ConnID, ev.Kind, ev.Detail, ev.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return s.trim(ctx, "connection_events")
}

// RecentConnections returns up to limit connection events, newest first.
func (s *SQLiteStore) RecentConnections(ctx context.Context, limit int) ([]*ConnectionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conn_id, kind, detail, at
		FROM connection_events
		ORDER BY seq DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	var out []*ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var at int64
		if err := rows.Scan(&ev.ID, &ev.ConnID, &ev.Kind, &ev.Detail, &at); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		ev.At = time.UnixMilli(at)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// trim drops rows older than the retention window. table is one of ours.
func (s *SQLiteStore) trim(ctx context.Context, table string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE seq <= (SELECT MAX(seq) FROM %s) - ?`, table, table)
	if _, err := s.db.ExecContext(ctx, query, s.retain); err != nil {
		return fmt.Errorf("trimming %s: %w", table, err)
	}
	return nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
