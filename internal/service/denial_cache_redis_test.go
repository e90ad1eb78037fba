package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisDenialCacheSetGetInvalidateAndExpiry(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	cache := NewRedisDenialCache(client, "denial_test")

	hit, err := cache.Get(ctx, DenialVerdictRevoked, "token-a")
	if err != nil {
		t.Fatalf("initial get: %v", err)
	}
	if hit {
		t.Fatal("expected initial miss")
	}

	if err := cache.Set(ctx, DenialVerdictRevoked, "token-a", 2*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	hit, err = cache.Get(ctx, DenialVerdictRevoked, "token-a")
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if !hit {
		t.Fatal("expected hit after set")
	}

	server.FastForward(3 * time.Second)
	hit, err = cache.Get(ctx, DenialVerdictRevoked, "token-a")
	if err != nil {
		t.Fatalf("get after ttl expiry: %v", err)
	}
	if hit {
		t.Fatal("expected miss after ttl expiry")
	}

	if err := cache.Set(ctx, DenialVerdictUnknown, "token-b", time.Minute); err != nil {
		t.Fatalf("set unknown: %v", err)
	}
	if err := cache.Invalidate(ctx, DenialVerdictUnknown); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	hit, err = cache.Get(ctx, DenialVerdictUnknown, "token-b")
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if hit {
		t.Fatal("expected miss after invalidate")
	}
}
