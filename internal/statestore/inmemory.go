package statestore

import (
	"context"
	"sync"
	"time"
)

// InMemory is the default Store backend: a single CC daemon process, no
// cross-process mirroring needed.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// NewInMemory creates an in-memory store with periodic eviction.
func NewInMemory() *InMemory {
	s := &InMemory{entries: make(map[string]*entry)}
	go s.evictLoop()
	return s
}

func (s *InMemory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.expired() {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (s *InMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.entries[key] = &entry{value: cp, expiresAt: expiresAt}
	return nil
}

func (s *InMemory) SetFresh(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	data, err := encodeEnvelope(payload, time.Now())
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data, ttl)
}

func (s *InMemory) GetFresh(ctx context.Context, key string, maxAge time.Duration) ([]byte, time.Time, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, time.Time{}, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, time.Time{}, ErrNotFound
	}
	if maxAge > 0 && time.Since(env.PublishedAt) > maxAge {
		return env.Payload, env.PublishedAt, ErrStale
	}
	return env.Payload, env.PublishedAt, nil
}

func (s *InMemory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *InMemory) Ping(_ context.Context) error { return nil }

func (s *InMemory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

func (s *InMemory) evictLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		for k, e := range s.entries {
			if e.expired() {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}
