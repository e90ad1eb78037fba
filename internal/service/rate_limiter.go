package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/repository"
)

// Decision is the outcome of one rate-limit check. CurrentCount includes the
// hit being decided, ResetIn is the time until the fixed window rolls over.
type Decision struct {
	Allowed      bool          `json:"allowed"`
	CurrentCount int           `json:"current_count"`
	Limit        int           `json:"limit"`
	ResetIn      time.Duration `json:"reset_in"`
}

// RateLimiter counts hits in fixed windows keyed by (action, caller). Both
// implementations share the same window arithmetic so swapping the backend
// does not change observable behavior.
type RateLimiter interface {
	Check(ctx context.Context, action, callerKey string, max int, window time.Duration) (Decision, error)
}

func windowBounds(now time.Time, window time.Duration) (start int64, resetIn time.Duration) {
	w := int64(window / time.Second)
	if w <= 0 {
		w = 1
	}
	start = now.Unix() - now.Unix()%w
	resetIn = time.Duration(start+w-now.Unix()) * time.Second
	return start, resetIn
}

// StoreRateLimiter keeps counters in the relational store. It is the default
// backend; counters survive restarts and need no extra infrastructure.
type StoreRateLimiter struct {
	counters repository.RateLimitRepository
	clock    clock.Clock
}

func NewStoreRateLimiter(counters repository.RateLimitRepository, clk clock.Clock) *StoreRateLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &StoreRateLimiter{counters: counters, clock: clk}
}

func (l *StoreRateLimiter) Check(ctx context.Context, action, callerKey string, max int, window time.Duration) (Decision, error) {
	start, resetIn := windowBounds(l.clock.Now(), window)
	count, err := l.counters.Hit(ctx, action, callerKey, start)
	if err != nil {
		observability.RecordRateLimitDecision(ctx, action, "error")
		return Decision{}, err
	}
	d := Decision{
		Allowed:      count <= max,
		CurrentCount: count,
		Limit:        max,
		ResetIn:      resetIn,
	}
	if d.Allowed {
		observability.RecordRateLimitDecision(ctx, action, "allowed")
	} else {
		observability.RecordRateLimitDecision(ctx, action, "limited")
	}
	return d, nil
}

// GC drops counters whose window ended over an hour ago.
func (l *StoreRateLimiter) GC(ctx context.Context) error {
	cutoff := l.clock.Now().Add(-time.Hour).Unix()
	_, err := l.counters.DeleteStale(ctx, cutoff)
	return err
}

// RedisRateLimiter keeps counters in redis. The window start is part of the
// key, so rollover is a fresh key and stale windows expire on their own.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if clk == nil {
		clk = clock.System()
	}
	return &RedisRateLimiter{client: client, prefix: prefix, clock: clk}
}

func (l *RedisRateLimiter) Check(ctx context.Context, action, callerKey string, max int, window time.Duration) (Decision, error) {
	start, resetIn := windowBounds(l.clock.Now(), window)
	key := fmt.Sprintf("%s:%s:%s:%d", l.prefix, action, callerKey, start)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.RecordRateLimitDecision(ctx, action, "error")
		return Decision{}, err
	}
	count := int(incr.Val())
	d := Decision{
		Allowed:      count <= max,
		CurrentCount: count,
		Limit:        max,
		ResetIn:      resetIn,
	}
	if d.Allowed {
		observability.RecordRateLimitDecision(ctx, action, "allowed")
	} else {
		observability.RecordRateLimitDecision(ctx, action, "limited")
	}
	return d, nil
}

// BypassList exempts a fixed set of caller keys, typically health checkers
// and internal batch jobs. Every exemption taken is counted.
type BypassList struct {
	keys map[string]struct{}
}

func NewBypassList(keys []string) *BypassList {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			m[k] = struct{}{}
		}
	}
	return &BypassList{keys: m}
}

func (b *BypassList) Allows(ctx context.Context, callerKey, scope string) bool {
	if b == nil {
		return false
	}
	if _, ok := b.keys[callerKey]; !ok {
		return false
	}
	observability.RecordSecurityBypassEvent(ctx, "bypass_key", scope)
	return true
}
