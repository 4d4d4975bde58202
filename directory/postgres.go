package directory

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/migadu/filterd/config"
	"github.com/migadu/filterd/logger"
	"github.com/migadu/filterd/pkg/metrics"
)

//go:embed schema.sql
var schema string

// Postgres is a directory backend on a PostgreSQL database, for
// deployments where multiple MTA nodes must share duplicate and
// vacation state.
type Postgres struct {
	name string
	pool *pgxpool.Pool
}

// OpenPostgres connects to the configured database and applies the
// idempotent schema.
func OpenPostgres(ctx context.Context, name string, cfg config.DirectoryConfig) (*Postgres, error) {
	sslMode := "disable"
	if cfg.TLSMode {
		sslMode = "require"
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, host, port, cfg.Name, sslMode)

	logger.Info("connecting to directory database", "directory", name,
		"host", host, "port", port, "database", cfg.Name, "sslmode", sslMode)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("directory %q: unable to parse connection string: %w", name, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("directory %q: failed to create connection pool: %w", name, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("directory %q: failed to connect to the database: %w", name, err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("directory %q: applying schema: %w", name, err)
	}

	return &Postgres{name: name, pool: pool}, nil
}

func (p *Postgres) Name() string { return p.name }

func (p *Postgres) Lookup(ctx context.Context, key string) ([]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT value FROM directory_entries WHERE key = $1 ORDER BY value", key)
	if err != nil {
		metrics.DirectoryLookups.WithLabelValues("postgres", "error").Inc()
		return nil, fmt.Errorf("directory %q: lookup %q: %w", p.name, key, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		metrics.DirectoryLookups.WithLabelValues("postgres", "error").Inc()
		return nil, fmt.Errorf("directory %q: lookup %q: %w", p.name, key, err)
	}
	if len(values) == 0 {
		metrics.DirectoryLookups.WithLabelValues("postgres", "miss").Inc()
		return nil, ErrNotFound
	}
	metrics.DirectoryLookups.WithLabelValues("postgres", "hit").Inc()
	return values, nil
}

func (p *Postgres) SeenDuplicate(ctx context.Context, account, id string, expiry time.Duration) (bool, error) {
	now := time.Now().Unix()
	cutoff := now - int64(expiry.Seconds())

	var seenAt int64
	err := p.pool.QueryRow(ctx,
		"SELECT seen_at FROM duplicate_ids WHERE account = $1 AND dup_id = $2", account, id).Scan(&seenAt)
	switch {
	case err == nil:
		if seenAt >= cutoff {
			return true, nil
		}
	case err != pgx.ErrNoRows:
		return false, fmt.Errorf("directory %q: duplicate check: %w", p.name, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO duplicate_ids (account, dup_id, seen_at) VALUES ($1, $2, $3)
		 ON CONFLICT (account, dup_id) DO UPDATE SET seen_at = EXCLUDED.seen_at`,
		account, id, now)
	if err != nil {
		return false, fmt.Errorf("directory %q: recording duplicate id: %w", p.name, err)
	}
	return false, nil
}

func (p *Postgres) HasRecentVacationResponse(ctx context.Context, account, sender string, cooldown time.Duration) (bool, error) {
	var respondedAt int64
	err := p.pool.QueryRow(ctx,
		"SELECT responded_at FROM vacation_responses WHERE account = $1 AND sender = $2",
		account, sender).Scan(&respondedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory %q: vacation check: %w", p.name, err)
	}
	return time.Since(time.Unix(respondedAt, 0)) < cooldown, nil
}

func (p *Postgres) RecordVacationResponse(ctx context.Context, account, sender string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO vacation_responses (account, sender, responded_at) VALUES ($1, $2, $3)
		 ON CONFLICT (account, sender) DO UPDATE SET responded_at = EXCLUDED.responded_at`,
		account, sender, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("directory %q: recording vacation response: %w", p.name, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
