package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"prodvault/types"
)

// BlobStore is the backup payload store. Keys are logical paths such as
// "backups/daily/products_backup_2026-08-23.json"; backends may namespace
// them under a bucket prefix.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the payload, or an error wrapping types.ErrNotFound when
	// the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryBlob is an in-process BlobStore for tests and single-node
// deployments.
type MemoryBlob struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBlob returns an empty in-memory blob store.
func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{data: make(map[string][]byte)}
}

func (m *MemoryBlob) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(err, "blob put", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlob) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(err, "blob get", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %q", types.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlob) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr(err, "blob exists", key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryBlob) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(err, "blob list", prefix)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBlob) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(err, "blob delete", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
