package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains configuration options for RedisStore.
type RedisConfig struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is prepended to every session id.
	// Default: "sess:"
	KeyPrefix string

	// TTL is the document lifetime. Default: DefaultTTL.
	TTL time.Duration
}

// RedisStore is a Store backed by Redis string keys with expiry.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed Store. The store owns the client.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("session: redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sess:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &RedisStore{client: cfg.Client, keyPrefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

// NewRedisStoreFromURL parses a redis:// URL and builds a store around a new
// client. An empty keyPrefix or ttl takes the RedisConfig default.
func NewRedisStoreFromURL(rawURL, keyPrefix string, ttl time.Duration) (*RedisStore, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty redis url", ErrConfig)
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", ErrConfig, err)
	}
	return NewRedisStore(RedisConfig{Client: redis.NewClient(opts), KeyPrefix: keyPrefix, TTL: ttl})
}

// KeyPrefix is the prefix prepended to every session id.
func (s *RedisStore) KeyPrefix() string { return s.keyPrefix }

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get loads the document stored under id.
func (s *RedisStore) Get(ctx context.Context, id string) (Values, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	return decodeValues(b)
}

// Set stores the document with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, id string, v Values) error {
	if id == "" {
		return errors.New("session: empty id")
	}
	raw, err := encodeValues(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Touch resets the expiry of id.
func (s *RedisStore) Touch(ctx context.Context, id string) error {
	ok, err := s.client.Expire(ctx, s.key(id), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("session: redis expire: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Destroy deletes id. Missing ids are not an error.
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}
