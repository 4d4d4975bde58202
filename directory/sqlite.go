package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/migadu/filterd/pkg/metrics"
	_ "modernc.org/sqlite"
)

// SQLite is a directory backend on a local SQLite database, the
// single-node alternative to Postgres. The schema matches the Postgres
// backend; modernc's pure-Go driver keeps the build cgo-free.
type SQLite struct {
	name string
	db   *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the idempotent schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(name, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("directory %q: sqlite backend requires a path", name)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("directory %q: opening sqlite database %q: %w", name, path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent policy callbacks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory %q: applying schema: %w", name, err)
	}

	return &SQLite{name: name, db: db}, nil
}

func (s *SQLite) Name() string { return s.name }

func (s *SQLite) Lookup(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT value FROM directory_entries WHERE key = ? ORDER BY value", key)
	if err != nil {
		metrics.DirectoryLookups.WithLabelValues("sqlite", "error").Inc()
		return nil, fmt.Errorf("directory %q: lookup %q: %w", s.name, key, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			metrics.DirectoryLookups.WithLabelValues("sqlite", "error").Inc()
			return nil, fmt.Errorf("directory %q: lookup %q: %w", s.name, key, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		metrics.DirectoryLookups.WithLabelValues("sqlite", "error").Inc()
		return nil, fmt.Errorf("directory %q: lookup %q: %w", s.name, key, err)
	}
	if len(values) == 0 {
		metrics.DirectoryLookups.WithLabelValues("sqlite", "miss").Inc()
		return nil, ErrNotFound
	}
	metrics.DirectoryLookups.WithLabelValues("sqlite", "hit").Inc()
	return values, nil
}

func (s *SQLite) SeenDuplicate(ctx context.Context, account, id string, expiry time.Duration) (bool, error) {
	now := time.Now().Unix()
	cutoff := now - int64(expiry.Seconds())

	var seenAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT seen_at FROM duplicate_ids WHERE account = ? AND dup_id = ?", account, id).Scan(&seenAt)
	switch {
	case err == nil:
		if seenAt >= cutoff {
			return true, nil
		}
	case err != sql.ErrNoRows:
		return false, fmt.Errorf("directory %q: duplicate check: %w", s.name, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO duplicate_ids (account, dup_id, seen_at) VALUES (?, ?, ?)
		 ON CONFLICT (account, dup_id) DO UPDATE SET seen_at = excluded.seen_at`,
		account, id, now)
	if err != nil {
		return false, fmt.Errorf("directory %q: recording duplicate id: %w", s.name, err)
	}
	return false, nil
}

func (s *SQLite) HasRecentVacationResponse(ctx context.Context, account, sender string, cooldown time.Duration) (bool, error) {
	var respondedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT responded_at FROM vacation_responses WHERE account = ? AND sender = ?",
		account, sender).Scan(&respondedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory %q: vacation check: %w", s.name, err)
	}
	return time.Since(time.Unix(respondedAt, 0)) < cooldown, nil
}

func (s *SQLite) RecordVacationResponse(ctx context.Context, account, sender string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vacation_responses (account, sender, responded_at) VALUES (?, ?, ?)
		 ON CONFLICT (account, sender) DO UPDATE SET responded_at = excluded.responded_at`,
		account, sender, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("directory %q: recording vacation response: %w", s.name, err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
