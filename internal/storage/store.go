// Package storage wraps the raw key-value drivers with the degradation
// contract the rest of the subsystem relies on: reads and writes never fail,
// they fall back to null reads and no-op writes when a backend is unavailable.
package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/repository"
)

// Store adapts one backend driver to the never-fail contract. A nil driver is
// the discard store: writes vanish and reads always miss.
type Store struct {
	name         string
	driver       port.KeyValueStore
	logger       *zap.Logger
	onDegrade    func(backend, op string)
	degradations int64
}

// NewStore wraps the driver. The name identifies the backend in logs and
// degradation metrics.
func NewStore(name string, driver port.KeyValueStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{name: name, driver: driver, logger: logger}
}

// Discard returns a store that drops writes and always misses on reads.
func Discard() *Store {
	return &Store{name: "discard", logger: zap.NewNop()}
}

// WithDegradationHook registers a callback fired on every absorbed failure.
func (s *Store) WithDegradationHook(hook func(backend, op string)) *Store {
	s.onDegrade = hook
	return s
}

// Name identifies the wrapped backend.
func (s *Store) Name() string {
	return s.name
}

// Get returns the stored value, or false on a miss or an absorbed failure.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	if s.driver == nil {
		return "", false
	}

	value, err := s.driver.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.degrade(ctx, "get", key, err)
		}
		return "", false
	}
	return value, true
}

// Set writes the value; failures are absorbed into a logged no-op.
func (s *Store) Set(ctx context.Context, key string, value string) {
	if s.driver == nil {
		return
	}
	if err := s.driver.Set(ctx, key, value); err != nil {
		s.degrade(ctx, "set", key, err)
	}
}

// Delete removes the key; failures are absorbed into a logged no-op.
func (s *Store) Delete(ctx context.Context, key string) {
	if s.driver == nil {
		return
	}
	if err := s.driver.Delete(ctx, key); err != nil {
		s.degrade(ctx, "delete", key, err)
	}
}

// Degradations reports how many driver failures this store has absorbed.
func (s *Store) Degradations() int64 {
	return atomic.LoadInt64(&s.degradations)
}

func (s *Store) degrade(_ context.Context, op, key string, err error) {
	atomic.AddInt64(&s.degradations, 1)
	s.logger.Warn("storage degraded to no-op",
		zap.String("backend", s.name),
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
	if s.onDegrade != nil {
		s.onDegrade(s.name, op)
	}
}

// Resolver maps a persistence mode to its fallback store.
type Resolver struct {
	durable   *Store
	ephemeral *Store
	discard   *Store
}

// NewResolver builds a resolver over the two real tiers.
func NewResolver(durable, ephemeral *Store) *Resolver {
	return &Resolver{durable: durable, ephemeral: ephemeral, discard: Discard()}
}

// ForMode returns the store backing the given persistence mode.
func (r *Resolver) ForMode(mode domain.PersistenceMode) *Store {
	switch mode {
	case domain.PersistenceEphemeral:
		return r.ephemeral
	case domain.PersistenceNone:
		return r.discard
	default:
		return r.durable
	}
}

// Durable exposes the durable tier directly; the session store always writes
// there regardless of the token persistence mode.
func (r *Resolver) Durable() *Store {
	return r.durable
}
