package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sustainage/admission-gate/internal/clock"
)

// License verdicts the denial cache partitions on.
const (
	DenialVerdictUnknown = "license.unknown"
	DenialVerdictRevoked = "license.revoked"
)

// DenialCache remembers recent license rejections so a client hammering the
// gate with the same revoked or unknown token does not turn every request
// into a row lookup. Only denials are cached; an admit always consults
// storage.
type DenialCache interface {
	Get(ctx context.Context, verdict, token string) (bool, error)
	Set(ctx context.Context, verdict, token string, ttl time.Duration) error
	Invalidate(ctx context.Context, verdict string) error
}

// cacheTokenKey keeps raw license tokens out of cache keys.
func cacheTokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type NoopDenialCache struct{}

func NewNoopDenialCache() *NoopDenialCache { return &NoopDenialCache{} }

func (c *NoopDenialCache) Get(context.Context, string, string) (bool, error) { return false, nil }

func (c *NoopDenialCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (c *NoopDenialCache) Invalidate(context.Context, string) error { return nil }

// MemoryDenialCache is the single-node backend.
type MemoryDenialCache struct {
	clock clock.Clock

	mu       sync.RWMutex
	verdicts map[string]map[string]time.Time
}

func NewMemoryDenialCache(clk clock.Clock) *MemoryDenialCache {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryDenialCache{
		clock:    clk,
		verdicts: make(map[string]map[string]time.Time),
	}
}

func (c *MemoryDenialCache) Get(_ context.Context, verdict, token string) (bool, error) {
	key := cacheTokenKey(token)
	now := c.clock.Now()

	c.mu.RLock()
	expiresAt, ok := c.verdicts[verdict][key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiresAt) {
		c.mu.Lock()
		if entries, ok := c.verdicts[verdict]; ok {
			delete(entries, key)
			if len(entries) == 0 {
				delete(c.verdicts, verdict)
			}
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (c *MemoryDenialCache) Set(_ context.Context, verdict, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.verdicts[verdict]
	if !ok {
		entries = make(map[string]time.Time)
		c.verdicts[verdict] = entries
	}
	entries[cacheTokenKey(token)] = c.clock.Now().Add(ttl)
	return nil
}

func (c *MemoryDenialCache) Invalidate(_ context.Context, verdict string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.verdicts, verdict)
	return nil
}
