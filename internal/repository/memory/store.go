package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/repository"
)

// Stats is a snapshot of the store's diagnostic counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Size    int   `json:"size"`
}

// Store is the ephemeral key-value backend. Contents live for the process
// lifetime only, which is exactly the durability the ephemeral persistence
// mode promises.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string

	hits    int64
	misses  int64
	sets    int64
	deletes int64
}

var _ port.KeyValueStore = (*Store)(nil)

// NewStore builds an empty ephemeral store.
func NewStore() *Store {
	return &Store{entries: make(map[string]string)}
}

// Get returns the stored value or repository.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[key]
	if !ok {
		atomic.AddInt64(&s.misses, 1)
		return "", repository.ErrNotFound
	}

	atomic.AddInt64(&s.hits, 1)
	return value, nil
}

// Set stores the value under the key, replacing any previous value.
func (s *Store) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = value
	atomic.AddInt64(&s.sets, 1)
	return nil
}

// Delete removes the key if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		atomic.AddInt64(&s.deletes, 1)
	}
	return nil
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a counter snapshot.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&s.hits),
		Misses:  atomic.LoadInt64(&s.misses),
		Sets:    atomic.LoadInt64(&s.sets),
		Deletes: atomic.LoadInt64(&s.deletes),
		Size:    s.Len(),
	}
}
