package directory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/migadu/filterd/config"
)

// Lookup is a named list of values a Sieve script can match against
// (external lists, trusted domain tables and the like).
type Lookup interface {
	Contains(ctx context.Context, value string) (bool, error)
}

// StaticLookup is an in-memory lookup list populated from configuration.
type StaticLookup struct {
	values map[string]struct{}
}

// NewStaticLookup builds a lookup list from the given values. Matching is
// case-insensitive, which is what mail addresses and domains want.
func NewStaticLookup(values []string) *StaticLookup {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return &StaticLookup{values: m}
}

func (l *StaticLookup) Contains(_ context.Context, value string) (bool, error) {
	_, ok := l.values[strings.ToLower(strings.TrimSpace(value))]
	return ok, nil
}

// NewFileLookup reads a lookup list from a file, one entry per line.
// Blank lines and lines starting with '#' are skipped. The file is read
// once at configuration time.
func NewFileLookup(path string) (*StaticLookup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening lookup file %q: %w", path, err)
	}
	defer f.Close()

	var values []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading lookup file %q: %w", path, err)
	}
	return NewStaticLookup(values), nil
}

// OpenLookup constructs a lookup list from its configuration.
func OpenLookup(name string, cfg config.LookupConfig) (Lookup, error) {
	switch cfg.Type {
	case "", "static":
		return NewStaticLookup(cfg.Values), nil
	case "file":
		return NewFileLookup(cfg.Path)
	default:
		return nil, fmt.Errorf("lookup %q: unknown type %q", name, cfg.Type)
	}
}
