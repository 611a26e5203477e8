package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is the default in-process store. Documents are kept encoded,
// so every Get hands out an independent copy.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

type memEntry struct {
	raw       []byte
	expiresAt time.Time
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithMemoryTTL sets the document lifetime (default DefaultTTL).
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMemoryClock overrides the time source (tests).
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore constructs an in-memory Store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Get returns a copy of the document stored under id.
func (s *MemoryStore) Get(ctx context.Context, id string) (Values, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decodeValues(e.raw)
}

// Set stores a copy of v under id.
func (s *MemoryStore) Set(ctx context.Context, id string, v Values) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return errors.New("session: empty id")
	}
	raw, err := encodeValues(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[id] = memEntry{raw: raw, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Touch extends the expiry of id.
func (s *MemoryStore) Touch(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		return ErrNotFound
	}
	e.expiresAt = s.now().Add(s.ttl)
	s.entries[id] = e
	return nil
}

// Destroy removes id. Missing ids are not an error.
func (s *MemoryStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Len reports the number of live documents.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
			continue
		}
		delete(s.entries, id)
	}
	return n
}
