package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisChallengeStoreFailureCounter(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisChallengeStore(client, "")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := store.IncrementFailures(ctx, "sess-1", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != i {
			t.Fatalf("expected %d, got %d", i, n)
		}
	}

	n, err := store.Failures(ctx, "sess-1")
	if err != nil || n != 3 {
		t.Fatalf("failures: n=%d err=%v", n, err)
	}
	if n, _ := store.Failures(ctx, "sess-2"); n != 0 {
		t.Fatalf("sessions must be isolated, got %d", n)
	}

	if err := store.ResetFailures(ctx, "sess-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := store.Failures(ctx, "sess-1"); n != 0 {
		t.Fatalf("expected 0 after reset, got %d", n)
	}
}

func TestRedisChallengeStoreCodeIsSingleUse(t *testing.T) {
	_, client := newRedisClientForTest(t)
	store := NewRedisChallengeStore(client, "")
	ctx := context.Background()

	if err := store.PutCode(ctx, "sess-1", "483920", time.Minute); err != nil {
		t.Fatalf("put code: %v", err)
	}
	code, err := store.TakeCode(ctx, "sess-1")
	if err != nil || code != "483920" {
		t.Fatalf("take code: code=%q err=%v", code, err)
	}
	code, err = store.TakeCode(ctx, "sess-1")
	if err != nil || code != "" {
		t.Fatalf("second take must be empty: code=%q err=%v", code, err)
	}
}

func TestMemoryChallengeStoreExpiry(t *testing.T) {
	clk := newTestClock()
	store := NewMemoryChallengeStore(clk)
	ctx := context.Background()

	if _, err := store.IncrementFailures(ctx, "sess-1", time.Minute); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.PutCode(ctx, "sess-1", "111111", time.Minute); err != nil {
		t.Fatalf("put code: %v", err)
	}

	clk.Advance(2 * time.Minute)

	if n, _ := store.Failures(ctx, "sess-1"); n != 0 {
		t.Fatalf("expected expired counter, got %d", n)
	}
	if code, _ := store.TakeCode(ctx, "sess-1"); code != "" {
		t.Fatalf("expected expired code, got %q", code)
	}
}

func TestMemoryChallengeStoreCodeIsSingleUse(t *testing.T) {
	store := NewMemoryChallengeStore(newTestClock())
	ctx := context.Background()

	if err := store.PutCode(ctx, "sess-1", "222222", time.Minute); err != nil {
		t.Fatalf("put code: %v", err)
	}
	if code, _ := store.TakeCode(ctx, "sess-1"); code != "222222" {
		t.Fatalf("take code: got %q", code)
	}
	if code, _ := store.TakeCode(ctx, "sess-1"); code != "" {
		t.Fatalf("second take must be empty, got %q", code)
	}
}
