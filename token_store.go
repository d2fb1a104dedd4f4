package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const defaultTokenSlotKey = "afs:token"

// DurableSlot is the single origin-scoped slot holding the current session
// token across reloads. Absence reads as the empty string, meaning
// "unauthenticated". The slot stores the token as-is: no encryption or
// integrity check happens in-process, which is an explicit trust boundary
// with the backend gateway.
type DurableSlot interface {
	Put(ctx context.Context, token string) error
	Get(ctx context.Context) (string, error)
	Delete(ctx context.Context) error
}

// RedisSlot is a [DurableSlot] on a single Redis key with no expiry.
type RedisSlot struct {
	redis redis.UniversalClient
	key   string
}

// NewRedisSlot creates a slot on the given key; an empty key falls back to
// the package default.
func NewRedisSlot(redisClient redis.UniversalClient, key string) *RedisSlot {
	if key == "" {
		key = defaultTokenSlotKey
	}
	return &RedisSlot{redis: redisClient, key: key}
}

// Put stores the token.
func (s *RedisSlot) Put(ctx context.Context, token string) error {
	if err := s.redis.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return nil
}

// Get returns the stored token, or "" when the slot is empty.
func (s *RedisSlot) Get(ctx context.Context) (string, error) {
	token, err := s.redis.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return token, nil
}

// Delete clears the slot. Deleting an empty slot is a no-op.
func (s *RedisSlot) Delete(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	return nil
}

// MemorySlot is an in-process [DurableSlot] for tests and examples.
type MemorySlot struct {
	mu    sync.Mutex
	value string
}

// Put stores the token.
func (s *MemorySlot) Put(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = token
	return nil
}

// Get returns the stored token, or "" when empty.
func (s *MemorySlot) Get(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

// Delete clears the slot.
func (s *MemorySlot) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = ""
	return nil
}

// TokenStore holds the current authentication token: an in-memory value
// plus a durable copy that survives reloads. The token is opaque: never
// mutated, only replaced or cleared.
type TokenStore struct {
	mu      sync.RWMutex
	current string
	slot    DurableSlot
}

// NewTokenStore creates a store over the given durable slot.
func NewTokenStore(slot DurableSlot) *TokenStore {
	return &TokenStore{slot: slot}
}

// Set replaces the token in both the in-memory value and the durable slot.
// The durable write happens first so a reload immediately after a
// navigation observes the new token.
func (s *TokenStore) Set(ctx context.Context, token string) error {
	if err := s.slot.Put(ctx, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = token
	s.mu.Unlock()
	return nil
}

// Get prefers the in-memory value and falls back to the durable slot when
// it is absent (e.g. after a reload). The fallback is a read-through, not a
// write-back: the in-memory value stays empty until the next Set.
func (s *TokenStore) Get(ctx context.Context) (string, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current != "" {
		return current, nil
	}
	return s.slot.Get(ctx)
}

// Clear removes both copies. Called on explicit logout and on detection of
// an unrecoverable auth error downstream.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
	return s.slot.Delete(ctx)
}
