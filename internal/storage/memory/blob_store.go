// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// BlobStore stores chapter files in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory blob store.
func New() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
	}
}

// Put persists the content under key and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, key string, _ string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", key), nil
}

// Get returns a copy of the content stored under key. A missing key surfaces
// as an error wrapping fs.ErrNotExist.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the content stored under key. Deleting a missing key is not
// an error.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Len reports how many objects the store currently holds.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
