package ledger

import (
	"context"
	"sync"
)

// WriteHook runs before a write is applied; a non-nil error rejects it.
type WriteHook func(key string, data []byte) error

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	blobs     map[string][]byte
	hook      WriteHook
	available bool
	writes    int
}

var _ BlobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[string][]byte),
		available: true,
	}
}

// SetWriteHook installs hook for subsequent writes. A nil hook removes it.
func (m *MemoryStore) SetWriteHook(hook WriteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// SetAvailable controls the result of IsAvailable.
func (m *MemoryStore) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// Put stores data without running the write hook.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
}

// Writes returns the number of accepted SetBlob calls.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte{}, m.blobs[key]...), nil
}

func (m *MemoryStore) SetBlob(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewWriteError(key, err)
	}
	m.mu.RLock()
	hook := m.hook
	m.mu.RUnlock()

	if hook != nil {
		if err := hook(key, data); err != nil {
			return NewWriteError(key, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *MemoryStore) IsAvailable(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}
