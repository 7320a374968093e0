package storage

import (
	"fmt"
	"io"
	"sync"
)

// MemoryStorage is an in-memory Storage for tests and throwaway runs.
// It honors the same write-once and key-validation contract as the
// durable backends.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[Collection]map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[Collection]map[string][]byte)}
}

func (s *MemoryStorage) Write(c Collection, key string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content for %s/%s: %w", c.Name(), key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.items[c]
	if coll == nil {
		coll = make(map[string][]byte)
		s.items[c] = coll
	}
	if _, ok := coll[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.Name(), key)
	}
	coll[key] = data
	return nil
}

func (s *MemoryStorage) Read(c Collection, key string, w io.Writer) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	data, ok := s.items[c][key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, c.Name(), key)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("reading %s/%s: %w", c.Name(), key, err)
	}
	return nil
}

// List snapshots the key set before invoking fn, so fn may call back
// into the storage without deadlocking.
func (s *MemoryStorage) List(c Collection, fn func(key string) error) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.items[c]))
	for key := range s.items[c] {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}
