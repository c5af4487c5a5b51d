// Package store keeps the moderation audit log in an embedded SQLite
// database.
//
// Migrations are kept in the [migrations] slice as ordered strings. Each is
// applied exactly once; the applied version is tracked in the
// schema_migrations table. To change the schema, append a new string and
// never edit or reorder existing entries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// maxAuditEntries bounds the audit table; older rows are purged on insert.
const maxAuditEntries = 10000

// migrations brings the schema up to date. Index i is version i+1.
var migrations = []string{
	// v1 audit log
	`CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		room       TEXT NOT NULL,
		actor      TEXT NOT NULL,
		action     TEXT NOT NULL,
		target     TEXT NOT NULL DEFAULT '',
		affected   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	// v2
	`CREATE INDEX IF NOT EXISTS idx_audit_log_room ON audit_log(room, id)`,
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; the recorder is the only writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		slog.Warn("sqlite WAL mode unavailable", "err", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("sqlite busy_timeout unavailable", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("audit store opened", "path", path)
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("applied migration", "version", v)
	}
	return nil
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Room      string
	Actor     string
	Action    string
	Target    string
	Affected  int
	CreatedAt time.Time
}

// InsertAudit appends an entry and purges rows beyond maxAuditEntries.
func (s *Store) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(room, actor, action, target, affected, created_at) VALUES(?,?,?,?,?,?)`,
		e.Room, e.Actor, e.Action, e.Target, e.Affected, e.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)`,
		maxAuditEntries,
	); err != nil {
		return fmt.Errorf("purge audit log: %w", err)
	}
	return nil
}

// ListAudit returns entries most recent first. An empty room lists every
// room; a non-positive limit defaults to 50.
func (s *Store) ListAudit(ctx context.Context, room string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const cols = `SELECT id, room, actor, action, target, affected, created_at FROM audit_log`

	var (
		rows *sql.Rows
		err  error
	)
	if room != "" {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE room = ? ORDER BY id DESC LIMIT ?`, room, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Room, &e.Actor, &e.Action, &e.Target, &e.Affected, &ms); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AuditCount returns the number of stored entries.
func (s *Store) AuditCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit log: %w", err)
	}
	return n, nil
}
