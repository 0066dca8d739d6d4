package blobstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/parklens/parklens/errdefs"
)

// MemoryStore is an in-process Store used by tests and by deployments that
// run without object storage configured.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	types   map[string]string
	baseURL string
}

// NewMemoryStore returns an empty MemoryStore. Blob URLs are formed under
// baseURL, which defaults to "memory://".
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory:/"
	}
	return &MemoryStore{
		blobs:   make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: baseURL,
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.blobs[key] = cp
	m.types[key] = contentType
	m.mu.Unlock()
	return m.URL(key), nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errdefs.NotFound(errors.Errorf("blob %s not found", key))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.blobs, key)
	delete(m.types, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) URL(key string) string {
	return m.baseURL + "/" + key
}

// Len reports the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
