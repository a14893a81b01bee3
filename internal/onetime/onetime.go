// Package onetime stores short-lived single-use codes that map to a value.
package onetime

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amineprimesmr/myfidpass/internal/clock"
)

// ErrNotFound is returned for unknown, expired or already used codes.
var ErrNotFound = errors.New("code not found or expired")

// Store issues codes and redeems them at most once.
type Store interface {
	Issue(ctx context.Context, value string, ttl time.Duration) (string, error)
	Redeem(ctx context.Context, code string) (string, error)
}

// NewCode returns a URL-safe random code.
func NewCode() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore keeps codes in process. Expired entries are swept on every
// Issue and Redeem.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]entry
}

// NewMemoryStore builds a MemoryStore. A nil clock uses wall time.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryStore{clock: clk, entries: make(map[string]entry)}
}

func (s *MemoryStore) sweep(now time.Time) {
	for code, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, code)
		}
	}
}

// Issue stores value under a fresh code.
func (s *MemoryStore) Issue(_ context.Context, value string, ttl time.Duration) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.sweep(now)
	s.entries[code] = entry{value: value, expiresAt: now.Add(ttl)}
	return code, nil
}

// Redeem returns the value and deletes the code.
func (s *MemoryStore) Redeem(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.clock.Now())
	e, ok := s.entries[code]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.entries, code)
	return e.value, nil
}

// Len reports the number of live codes.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.clock.Now())
	return len(s.entries)
}

// RedisStore keeps codes in Redis with SET EX and redeems them with GETDEL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a RedisStore; keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "onetime:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Issue stores value under a fresh code.
func (s *RedisStore) Issue(ctx context.Context, value string, ttl time.Duration) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+code, value, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("code collision")
	}
	return code, nil
}

// Redeem atomically reads and deletes the code.
func (s *RedisStore) Redeem(ctx context.Context, code string) (string, error) {
	value, err := s.client.GetDel(ctx, s.prefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
