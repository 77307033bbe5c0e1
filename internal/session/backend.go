package session

import (
	"context"
	"sync"
)

// Backend is the durable per-token key-value capability a Unit persists its
// record blob through. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the blob stored for token, or ErrRecordNotFound.
	Get(ctx context.Context, token string) ([]byte, error)

	// Put stores data for token, replacing any previous blob.
	Put(ctx context.Context, token string, data []byte) error

	// Delete removes the blob for token. Deleting a missing token is not an
	// error.
	Delete(ctx context.Context, token string) error
}

// MemoryBackend keeps blobs in process memory. It is meant for tests and
// single-node development; nothing survives a restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(ctx context.Context, token string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[token]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBackend) Put(ctx context.Context, token string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.mu.Lock()
	m.blobs[token] = stored
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.blobs, token)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
