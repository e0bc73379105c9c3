package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// MemoryStore keeps objects in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	writes  map[string]int
}

// NewMemoryStore creates an empty in-memory object store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		writes:  make(map[string]int),
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &domain.StorageError{Key: key, Err: err}
	}
	if size >= 0 && int64(len(data)) != size {
		return &domain.StorageError{Key: key, Err: fmt.Errorf("short write: got %d bytes, want %d", len(data), size)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.writes[key]++
	return nil
}

func (s *MemoryStore) Download(ctx context.Context, key, localPath string) error {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return &domain.FetchError{Key: key, Err: domain.ErrObjectNotFound}
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return &domain.FetchError{Key: key, Err: err}
	}
	return nil
}

func (s *MemoryStore) Upload(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &domain.StorageError{Key: key, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.writes[key]++
	return nil
}

// Get returns a stored object
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}

// Keys lists stored keys in lexical order
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes returns how many times a key was written
func (s *MemoryStore) Writes(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[key]
}
