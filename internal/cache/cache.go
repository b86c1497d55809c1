// Package cache holds the gateway's read cache. Entries live in groups that
// mirror the dashboard's query groups; invalidating a group makes every entry in
// it stale at once, so the next read goes back to the backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Group string

const (
	Materials Group = "materials"
	Batches   Group = "batches"
	Cycles    Group = "cycles"
	Alerts    Group = "alerts"
	Metrics   Group = "metrics"

	// AlertMap holds the poller leader's published severity map. No dashboard
	// write invalidates it.
	AlertMap Group = "alert-map"

	// Sessions maps token fingerprints to the session the backend vouched for.
	Sessions Group = "sessions"
)

// CycleGroups are the groups a cycle event marks stale.
var CycleGroups = []Group{Materials, Batches, Cycles}

// Store is implemented by the Redis and in-memory caches.
type Store interface {
	// Get decodes the entry into dest. It reports false when the entry is
	// missing or its group was invalidated after it was written.
	Get(ctx context.Context, group Group, key string, dest any) (bool, error)
	Set(ctx context.Context, group Group, key string, value any, ttl time.Duration) error
	// Generation returns the group's current generation. Pass it to SetAt
	// to store a value that was fetched after this call.
	Generation(ctx context.Context, group Group) (int64, error)
	// SetAt stores the entry only if group is still at generation gen;
	// otherwise the value predates an invalidation and ErrStale is returned.
	SetAt(ctx context.Context, group Group, gen int64, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, groups ...Group) error
	Close() error
}

var (
	ErrClosed = errors.New("cache closed")
	ErrStale  = errors.New("cache generation moved")
)

type memEntry struct {
	gen     int64
	data    []byte
	expires time.Time
}

// Memory is a process-local Store used when no Redis is configured.
type Memory struct {
	mu      sync.Mutex
	gens    map[Group]int64
	entries map[string]memEntry
	now     func() time.Time
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{
		gens:    make(map[Group]int64),
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, group Group, key string, dest any) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	k := string(group) + ":" + key
	e, ok := m.entries[k]
	if ok && (e.gen != m.gens[group] || (!e.expires.IsZero() && m.now().After(e.expires))) {
		delete(m.entries, k)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", group, key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, group Group, key string, value any, ttl time.Duration) error {
	return m.set(group, -1, key, value, ttl)
}

func (m *Memory) Generation(_ context.Context, group Group) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.gens[group], nil
}

func (m *Memory) SetAt(_ context.Context, group Group, gen int64, key string, value any, ttl time.Duration) error {
	return m.set(group, gen, key, value, ttl)
}

// set writes at the current generation, or only at gen when gen >= 0.
func (m *Memory) set(group Group, gen int64, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", group, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if gen >= 0 && gen != m.gens[group] {
		return ErrStale
	}
	e := memEntry{gen: m.gens[group], data: data}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[string(group)+":"+key] = e
	return nil
}

func (m *Memory) Invalidate(_ context.Context, groups ...Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, g := range groups {
		m.gens[g]++
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}
