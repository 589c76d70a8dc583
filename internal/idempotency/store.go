// Package idempotency provides the Idempotency-Key dedup store: a TTL map
// keyed by (key, fingerprint) whose replay returns the cached response. It
// does not extend single-flight coalescing; it only lets well-behaved
// clients retrieve a completed response again.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// CachedResponse is a completed wire response eligible for replay.
type CachedResponse struct {
	Status   int
	Body     []byte
	StoredAt time.Time
}

// Store is the dedup store contract. Implementations: in-memory map and a
// SQLite-backed variant for operators who want replay to survive restarts.
type Store interface {
	// Get returns the cached response for (key, fingerprint), if present and
	// unexpired.
	Get(ctx context.Context, key, fingerprint string) (*CachedResponse, error)

	// Put records a completed response under (key, fingerprint).
	Put(ctx context.Context, key, fingerprint string, resp CachedResponse) error

	// Purge removes expired entries and reports how many were removed.
	Purge(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}

type memoryEntry struct {
	resp      CachedResponse
	expiresAt time.Time
}

// MemoryStore is the default in-memory TTL map.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryStore creates an in-memory store with the given entry TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func composite(key, fingerprint string) string {
	return key + "\x00" + fingerprint
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key, fingerprint string) (*CachedResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[composite(key, fingerprint)]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, key, fingerprint string, resp CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	m.entries[composite(key, fingerprint)] = memoryEntry{resp: resp, expiresAt: time.Now().Add(m.ttl)}
	return nil
}

// Purge implements Store.
func (m *MemoryStore) Purge(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var removed int64
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
