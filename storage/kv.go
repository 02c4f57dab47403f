// Package storage defines the two narrow persistence interfaces the
// subsystem consumes, a key-value store for records and a blob store for
// backup payloads, together with memory, Redis, S3, and GCS backends.
// Backends wrap driver errors in types.ErrStorage so callers never depend
// on driver error types.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"prodvault/types"
)

// KVStore is the record store. Put overwrites unconditionally; PutIfAbsent
// and CompareAndSwap are the conditional writes the upsert path builds its
// optimistic concurrency on.
type KVStore interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put writes the value unconditionally.
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes only when the key does not exist yet and reports
	// whether this call claimed it.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// CompareAndSwap replaces the value only while it still equals old.
	// A false return means another writer got there first.
	CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error)
	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

func wrapErr(err error, op, key string) error {
	return fmt.Errorf("%w: %s %q: %v", types.ErrStorage, op, key, err)
}

// MemoryKV is an in-process KVStore for tests and single-node deployments.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, wrapErr(err, "get", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

func (m *MemoryKV) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(err, "put", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr(err, "putifabsent", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *MemoryKV) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr(err, "cas", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.data[key]
	if !exists || !bytes.Equal(cur, old) {
		return false, nil
	}
	m.data[key] = append([]byte(nil), new...)
	return true, nil
}

func (m *MemoryKV) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(err, "list", prefix)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len reports the number of stored keys. Test helper.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
