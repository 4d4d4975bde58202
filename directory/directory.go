// Package directory provides the external data sources available to the
// Sieve engine: named lookup lists that scripts can match against, and
// named storage backends ("directories") that hold the state behind
// stateful extensions such as duplicate suppression and vacation
// response tracking.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/migadu/filterd/config"
)

// ErrNotFound is returned by Lookup when a key has no entries.
var ErrNotFound = errors.New("directory: key not found")

// Directory is a named storage backend. Scripts query it through
// key-value lookups; the execution policy uses it to persist duplicate
// tracking and vacation response state across deliveries.
type Directory interface {
	// Name returns the configured backend name.
	Name() string

	// Lookup returns the values stored under key, or ErrNotFound.
	Lookup(ctx context.Context, key string) ([]string, error)

	// SeenDuplicate reports whether id was already recorded for account
	// within expiry, and records it if not.
	SeenDuplicate(ctx context.Context, account, id string, expiry time.Duration) (bool, error)

	// HasRecentVacationResponse reports whether a vacation response was
	// sent to sender on behalf of account within cooldown.
	HasRecentVacationResponse(ctx context.Context, account, sender string, cooldown time.Duration) (bool, error)

	// RecordVacationResponse records that a vacation response has been
	// sent to sender on behalf of account.
	RecordVacationResponse(ctx context.Context, account, sender string) error

	Close() error
}

// Open constructs a directory backend from its configuration.
func Open(ctx context.Context, name string, cfg config.DirectoryConfig) (Directory, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(name, cfg.Entries), nil
	case "postgres":
		return OpenPostgres(ctx, name, cfg)
	case "sqlite":
		return OpenSQLite(name, cfg.Path)
	default:
		return nil, fmt.Errorf("directory %q: unknown type %q", name, cfg.Type)
	}
}
