package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists session documents by id.
//
// Requirements:
//   - Get returns ErrNotFound for missing or expired documents.
//   - Set overwrites (last write wins); concurrent Get/Set from HTTP requests
//     and socket connections must be safe.
type Store interface {
	Get(ctx context.Context, id string) (Values, error)
	Set(ctx context.Context, id string, v Values) error
	// Touch extends the expiry of an existing document without rewriting it.
	Touch(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	Close() error
}

func encodeValues(v Values) ([]byte, error) {
	if v == nil {
		v = Values{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	return b, nil
}

func decodeValues(b []byte) (Values, error) {
	v := Values{}
	if len(b) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return v, nil
}
