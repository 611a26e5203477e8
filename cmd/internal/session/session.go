package session

import (
	"context"
	"encoding/json"

	"sockpress/cmd/identity/ids"

	"github.com/cespare/xxhash/v2"
)

// Values is the key/value document of a session.
// Values survive a store round-trip as JSON, so numbers come back as float64.
type Values map[string]any

type state uint8

const (
	stateUnresolved state = iota
	stateAuthentic
	stateDestroyed
)

// Session is one user session.
//
// A Session is not safe for concurrent use. Over HTTP it belongs to one
// request; on the socket it belongs to one connection, whose events are
// dispatched sequentially.
type Session struct {
	// Values is the live mapping. Save persists whatever it holds at call time.
	Values Values

	id    string
	store Store
	state state

	// fingerprint of Values when loaded or created; used by Manager to decide
	// whether a request modified the session.
	fingerprint uint64
}

// Unresolved returns a fresh placeholder session: empty, and Save always fails.
func Unresolved() *Session {
	return &Session{Values: Values{}}
}

func newAuthentic(id string, store Store, v Values) *Session {
	if v == nil {
		v = Values{}
	}
	s := &Session{Values: v, id: id, store: store, state: stateAuthentic}
	s.fingerprint = fingerprint(v)
	return s
}

// ID returns the session id, or "" for the placeholder.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Authentic reports whether the session is bound to a stored document.
func (s *Session) Authentic() bool {
	return s != nil && s.state == stateAuthentic
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	if s == nil || s.Values == nil {
		return nil, false
	}
	v, ok := s.Values[key]
	return v, ok
}

// Set stores v under key in memory. Nothing is persisted until Save.
func (s *Session) Set(key string, v any) {
	if s == nil {
		return
	}
	if s.Values == nil {
		s.Values = Values{}
	}
	s.Values[key] = v
}

// Delete removes key in memory.
func (s *Session) Delete(key string) {
	if s == nil || s.Values == nil {
		return
	}
	delete(s.Values, key)
}

// Save writes the current Values to the store under the session id.
func (s *Session) Save(ctx context.Context) error {
	if s == nil {
		return ErrNotInitialized
	}
	switch s.state {
	case stateDestroyed:
		return ErrDestroyed
	case stateAuthentic:
	default:
		return ErrNotInitialized
	}
	if s.store == nil {
		return ErrNotInitialized
	}
	if s.Values == nil {
		s.Values = Values{}
	}
	return s.store.Set(ctx, s.id, s.Values)
}

// Destroy deletes the stored document. Further Saves fail with ErrDestroyed.
func (s *Session) Destroy(ctx context.Context) error {
	if !s.Authentic() || s.store == nil {
		return ErrNotInitialized
	}
	if err := s.store.Destroy(ctx, s.id); err != nil {
		return err
	}
	s.state = stateDestroyed
	s.Values = Values{}
	return nil
}

// Regenerate drops the stored document and rebinds the session to a fresh,
// empty id. Over HTTP the new cookie is issued when the response is written.
func (s *Session) Regenerate(ctx context.Context) error {
	if !s.Authentic() || s.store == nil {
		return ErrNotInitialized
	}
	if err := s.store.Destroy(ctx, s.id); err != nil {
		return err
	}
	id, err := ids.NewSessionID()
	if err != nil {
		return err
	}
	s.id = id
	s.Values = Values{}
	s.fingerprint = fingerprint(s.Values)
	return nil
}

func (s *Session) modified() bool {
	return fingerprint(s.Values) != s.fingerprint
}

// fingerprint hashes the JSON form of v. encoding/json sorts map keys, so
// equal documents hash equally.
func fingerprint(v Values) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
