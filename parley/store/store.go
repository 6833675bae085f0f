// Package store wraps the shared Valkey instance behind a small key/value
// interface so callers (presence, snapshots) can be tested with an
// in-memory fake.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// defaultAddr matches the docker-compose development environment.
const defaultAddr = "parley-valkey:6379"

// ErrNotFound is returned by GetValue when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KVStore defines the key/value operations our store supports.
type KVStore interface {
	// SetValue sets the given key to the specified value.
	SetValue(ctx context.Context, key, value string) error
	// SetValueWithTTL sets the given key with a TTL in seconds.
	SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error
	// GetValue retrieves the value for the given key, or ErrNotFound.
	GetValue(ctx context.Context, key string) (string, error)
	// SetExpire refreshes the TTL for an existing key in seconds.
	SetExpire(ctx context.Context, key string, ttlSeconds int) error
	// ListKeys retrieves all keys matching the given pattern.
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	// DeleteValue removes the value associated with the given key.
	DeleteValue(ctx context.Context, key string) error
	// Close shuts down the underlying connection.
	Close() error
}

// valkeyStore is a concrete implementation of KVStore using the valkey-go
// client.
type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to the address in PARLEY_VALKEY_ADDR, falling back
// to the development default.
func NewValkeyStore() (KVStore, error) {
	addr := os.Getenv("PARLEY_VALKEY_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	return NewValkeyStoreWithAddr(addr)
}

// NewValkeyStoreWithAddr connects to an explicit address.
func NewValkeyStoreWithAddr(addr string) (KVStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", addr, err)
	}
	return &valkeyStore{client: client}, nil
}

// SetValue implements KVStore by executing a SET command.
func (s *valkeyStore) SetValue(ctx context.Context, key, value string) error {
	cmd := s.client.B().Set().Key(key).Value(value).Build()
	return s.client.Do(ctx, cmd).Error()
}

// SetValueWithTTL implements KVStore by executing a SET command with TTL.
func (s *valkeyStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	cmd := s.client.B().Set().Key(key).Value(value).Ex(time.Duration(ttlSeconds) * time.Second).Build()
	return s.client.Do(ctx, cmd).Error()
}

// GetValue implements KVStore by executing a GET command.
func (s *valkeyStore) GetValue(ctx context.Context, key string) (string, error) {
	cmd := s.client.B().Get().Key(key).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("valkey GET for key '%s' failed: %w", key, err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to convert valkey reply to string for key '%s': %w", key, err)
	}
	return value, nil
}

// SetExpire implements KVStore by executing an EXPIRE command.
func (s *valkeyStore) SetExpire(ctx context.Context, key string, ttlSeconds int) error {
	cmd := s.client.B().Expire().Key(key).Seconds(int64(ttlSeconds)).Build()
	return s.client.Do(ctx, cmd).Error()
}

// ListKeys implements KVStore by executing a KEYS command with pattern
// matching.
func (s *valkeyStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	cmd := s.client.B().Keys().Pattern(pattern).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("valkey KEYS with pattern '%s' failed: %w", pattern, err)
	}

	messages, err := resp.ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to convert valkey KEYS reply to array for pattern '%s': %w", pattern, err)
	}

	keys := make([]string, len(messages))
	for i, msg := range messages {
		k, err := msg.ToString()
		if err != nil {
			return nil, fmt.Errorf("failed to convert key at index %d in KEYS result for pattern '%s': %w", i, pattern, err)
		}
		keys[i] = k
	}
	return keys, nil
}

// DeleteValue implements KVStore by executing a DEL command.
func (s *valkeyStore) DeleteValue(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Close shuts down the underlying client connection.
func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}
