package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps entries in process memory. It does not survive restarts
// and is used for tests and throwaway sessions.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (b *MemoryBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, ErrBackendClosed
	}
	data, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(data), true, nil
}

func (b *MemoryBackend) ReadMany(_ context.Context, keys []string) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if data, ok := b.entries[key]; ok {
			out[key] = cloneBytes(data)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Write(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.entries[key] = cloneBytes(data)
	return nil
}

func (b *MemoryBackend) WriteMany(_ context.Context, entries map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	for key, data := range entries {
		b.entries[key] = cloneBytes(data)
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	for _, key := range keys {
		delete(b.entries, key)
	}
	return nil
}

func (b *MemoryBackend) DeleteIfUnchanged(_ context.Context, snapshot map[string][]byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBackendClosed
	}
	deleted := 0
	for key, data := range snapshot {
		if current, ok := b.entries[key]; ok && bytes.Equal(current, data) {
			delete(b.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.entries = make(map[string][]byte)
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func cloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

var _ Backend = (*MemoryBackend)(nil)
