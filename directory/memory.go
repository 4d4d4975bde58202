package directory

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process directory backend. It is the default when a
// configuration names no external store; state does not survive restarts,
// matching the in-memory vacation tracking used when no oracle is
// available.
type Memory struct {
	name string

	mu        sync.RWMutex
	entries   map[string][]string
	duplicate map[string]time.Time // account + "\x00" + id -> suppression deadline
	vacation  map[string]time.Time // account + "\x00" + sender -> last response
}

// NewMemory creates an in-memory directory seeded with the given entries.
func NewMemory(name string, entries map[string][]string) *Memory {
	seeded := make(map[string][]string, len(entries))
	for k, v := range entries {
		seeded[k] = append([]string(nil), v...)
	}
	return &Memory{
		name:      name,
		entries:   seeded,
		duplicate: make(map[string]time.Time),
		vacation:  make(map[string]time.Time),
	}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Lookup(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), values...), nil
}

func (m *Memory) SeenDuplicate(_ context.Context, account, id string, expiry time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, deadline := range m.duplicate {
		if now.After(deadline) {
			delete(m.duplicate, k)
		}
	}

	key := account + "\x00" + id
	if deadline, ok := m.duplicate[key]; ok && now.Before(deadline) {
		return true, nil
	}
	m.duplicate[key] = now.Add(expiry)
	return false, nil
}

func (m *Memory) HasRecentVacationResponse(_ context.Context, account, sender string, cooldown time.Duration) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last, ok := m.vacation[account+"\x00"+sender]
	return ok && time.Since(last) < cooldown, nil
}

func (m *Memory) RecordVacationResponse(_ context.Context, account, sender string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vacation[account+"\x00"+sender] = time.Now()
	return nil
}

func (m *Memory) Close() error { return nil }
