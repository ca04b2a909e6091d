package store

import (
	"context"
	"sync"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// MemoryKV is an in-memory implementation of the KV interface.
// Nothing survives a restart.
type MemoryKV struct {
	values map[string][]byte
	mu     sync.RWMutex
}

// NewMemoryKV creates a new in-memory KV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string][]byte),
	}
}

var _ ports.KV = (*MemoryKV)(nil)

// Get returns a copy of the value stored under key
func (s *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return nil, core.ErrKeyNotFound
	}

	return append([]byte(nil), value...), nil
}

// Set stores a copy of value under key
func (s *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key, missing keys are not an error
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
