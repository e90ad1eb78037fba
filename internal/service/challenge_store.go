package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sustainage/admission-gate/internal/clock"
)

// ChallengeStore holds the ephemeral side of login defense: the per-session
// failure count that drives CAPTCHA escalation, and the outstanding CAPTCHA
// code itself. Both expire on their own; losing this state only resets
// escalation, never the durable lockout counter.
type ChallengeStore interface {
	IncrementFailures(ctx context.Context, sessionID string, ttl time.Duration) (int, error)
	ResetFailures(ctx context.Context, sessionID string) error
	Failures(ctx context.Context, sessionID string) (int, error)
	PutCode(ctx context.Context, sessionID, code string, ttl time.Duration) error
	// TakeCode removes the stored code as it reads it. One issued code gets
	// exactly one submission; a retry needs a fresh challenge.
	TakeCode(ctx context.Context, sessionID string) (string, error)
}

type RedisChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisChallengeStore(client redis.UniversalClient, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "login_challenge"
	}
	return &RedisChallengeStore{client: client, prefix: prefix}
}

func (s *RedisChallengeStore) failureKey(sessionID string) string {
	return fmt.Sprintf("%s:failures:%s", s.prefix, sessionID)
}

func (s *RedisChallengeStore) codeKey(sessionID string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, sessionID)
}

func (s *RedisChallengeStore) IncrementFailures(ctx context.Context, sessionID string, ttl time.Duration) (int, error) {
	key := s.failureKey(sessionID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisChallengeStore) ResetFailures(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.failureKey(sessionID)).Err()
}

func (s *RedisChallengeStore) Failures(ctx context.Context, sessionID string) (int, error) {
	v, err := s.client.Get(ctx, s.failureKey(sessionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (s *RedisChallengeStore) PutCode(ctx context.Context, sessionID, code string, ttl time.Duration) error {
	return s.client.Set(ctx, s.codeKey(sessionID), code, ttl).Err()
}

func (s *RedisChallengeStore) TakeCode(ctx context.Context, sessionID string) (string, error) {
	v, err := s.client.GetDel(ctx, s.codeKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// MemoryChallengeStore is the in-process fallback used when no redis address
// is configured. Single node only.
type MemoryChallengeStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	failures map[string]memoryEntry
	codes    map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryChallengeStore(clk clock.Clock) *MemoryChallengeStore {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryChallengeStore{
		clock:    clk,
		failures: make(map[string]memoryEntry),
		codes:    make(map[string]memoryEntry),
	}
}

func (s *MemoryChallengeStore) live(m map[string]memoryEntry, key string) (memoryEntry, bool) {
	e, ok := m[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.After(s.clock.Now()) {
		delete(m, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryChallengeStore) IncrementFailures(_ context.Context, sessionID string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	if e, ok := s.live(s.failures, sessionID); ok {
		count, _ = strconv.Atoi(e.value)
	}
	count++
	s.failures[sessionID] = memoryEntry{
		value:     strconv.Itoa(count),
		expiresAt: s.clock.Now().Add(ttl),
	}
	return count, nil
}

func (s *MemoryChallengeStore) ResetFailures(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, sessionID)
	return nil
}

func (s *MemoryChallengeStore) Failures(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live(s.failures, sessionID); ok {
		return strconv.Atoi(e.value)
	}
	return 0, nil
}

func (s *MemoryChallengeStore) PutCode(_ context.Context, sessionID, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[sessionID] = memoryEntry{value: code, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryChallengeStore) TakeCode(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(s.codes, sessionID)
	if !ok {
		return "", nil
	}
	delete(s.codes, sessionID)
	return e.value, nil
}
