package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/repository"
)

const testPassword = "correct-horse-battery"

func newGuardForTest(t *testing.T, cfg GuardConfig, lockoutMax int) (*LoginGuard, *clock.Fake) {
	t.Helper()
	db := newTestDB(t)
	clk := newTestClock()

	users := repository.NewUserRepository(db)
	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	err = users.Create(context.Background(), &domain.User{
		Username:     "alice",
		PasswordHash: hash,
		CompanyID:    1,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	guard := NewLoginGuard(
		NewStoreRateLimiter(repository.NewRateLimitRepository(db), clk),
		NewLockoutService(repository.NewLockoutRepository(db), clk, lockoutMax, 5*time.Minute),
		NewMemoryChallengeStore(clk),
		NewAuthenticator(users),
		cfg,
	)
	return guard, clk
}

func defaultGuardConfig() GuardConfig {
	return GuardConfig{
		LoginMax:         10,
		LoginWindow:      time.Minute,
		CaptchaThreshold: 3,
		CaptchaTTL:       3 * time.Minute,
		CaptchaDigits:    6,
		EscalationTTL:    5 * time.Minute,
	}
}

func TestLoginGuardSuccess(t *testing.T) {
	guard, _ := newGuardForTest(t, defaultGuardConfig(), 5)
	user, err := guard.Attempt(context.Background(), LoginRequest{
		Username: "alice", Password: testPassword,
		ClientIP: "1.2.3.4", ChallengeID: "sess-1",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestLoginGuardCaptchaEscalation(t *testing.T) {
	guard, _ := newGuardForTest(t, defaultGuardConfig(), 5)
	ctx := context.Background()
	req := LoginRequest{Username: "alice", Password: "wrong", ClientIP: "1.2.3.4", ChallengeID: "sess-1"}

	for i := 0; i < 3; i++ {
		if _, err := guard.Attempt(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// Threshold reached: even correct credentials need a solution now.
	good := req
	good.Password = testPassword
	if _, err := guard.Attempt(ctx, good); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired, got %v", err)
	}

	code, err := guard.IssueChallenge(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}

	bad := good
	bad.CaptchaCode = "000000"
	if bad.CaptchaCode == code {
		bad.CaptchaCode = "999999"
	}
	if _, err := guard.Attempt(ctx, bad); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch, got %v", err)
	}

	// The failed solution consumed the code; a fresh one is needed.
	code, err = guard.IssueChallenge(ctx, "sess-1")
	if err != nil {
		t.Fatalf("reissue challenge: %v", err)
	}
	good.CaptchaCode = code
	user, err := guard.Attempt(ctx, good)
	if err != nil {
		t.Fatalf("attempt with solved captcha: %v", err)
	}
	if user == nil {
		t.Fatal("expected user on success")
	}

	// Success reset escalation: the next attempt needs no captcha.
	needed, err := guard.CaptchaNeeded(ctx, "sess-1")
	if err != nil || needed {
		t.Fatalf("expected escalation reset, needed=%v err=%v", needed, err)
	}
}

func TestLoginGuardCaptchaMismatchStillCountsWrongPassword(t *testing.T) {
	cfg := defaultGuardConfig()
	cfg.CaptchaThreshold = 1
	guard, _ := newGuardForTest(t, cfg, 2)
	ctx := context.Background()
	req := LoginRequest{Username: "alice", Password: "wrong", ClientIP: "1.2.3.4", ChallengeID: "sess-1"}

	if _, err := guard.Attempt(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("first attempt: expected ErrInvalidCredentials, got %v", err)
	}

	// Wrong captcha on top of a wrong password: the mismatch is reported, but
	// the bad credentials still count and arm the two-failure lock.
	code, err := guard.IssueChallenge(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	bad := req
	bad.CaptchaCode = "000000"
	if bad.CaptchaCode == code {
		bad.CaptchaCode = "999999"
	}
	if _, err := guard.Attempt(ctx, bad); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch, got %v", err)
	}

	good := req
	good.Password = testPassword
	var locked *AccountLockedError
	if _, err := guard.Attempt(ctx, good); !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError after two failures, got %v", err)
	}
}

func TestLoginGuardCaptchaMismatchWithCorrectPasswordDoesNotCount(t *testing.T) {
	cfg := defaultGuardConfig()
	cfg.CaptchaThreshold = 1
	guard, _ := newGuardForTest(t, cfg, 2)
	ctx := context.Background()
	req := LoginRequest{Username: "alice", Password: "wrong", ClientIP: "1.2.3.4", ChallengeID: "sess-1"}

	if _, err := guard.Attempt(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("first attempt: expected ErrInvalidCredentials, got %v", err)
	}

	code, err := guard.IssueChallenge(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	good := req
	good.Password = testPassword
	good.CaptchaCode = "000000"
	if good.CaptchaCode == code {
		good.CaptchaCode = "999999"
	}
	if _, err := guard.Attempt(ctx, good); !errors.Is(err, ErrCaptchaMismatch) {
		t.Fatalf("expected ErrCaptchaMismatch, got %v", err)
	}

	// Only one real credential failure so far; solving the fresh challenge
	// with the right password must succeed, not report a lock.
	code, err = guard.IssueChallenge(ctx, "sess-1")
	if err != nil {
		t.Fatalf("reissue challenge: %v", err)
	}
	good.CaptchaCode = code
	if _, err := guard.Attempt(ctx, good); err != nil {
		t.Fatalf("attempt with solved captcha: %v", err)
	}
}

func TestLoginGuardRateLimit(t *testing.T) {
	cfg := defaultGuardConfig()
	cfg.LoginMax = 2
	guard, _ := newGuardForTest(t, cfg, 5)
	ctx := context.Background()
	req := LoginRequest{Username: "alice", Password: "wrong", ClientIP: "1.2.3.4", ChallengeID: "sess-1"}

	for i := 0; i < 2; i++ {
		if _, err := guard.Attempt(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	_, err := guard.Attempt(ctx, req)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.Decision.CurrentCount != 3 || limited.Decision.Limit != 2 {
		t.Fatalf("unexpected decision: %+v", limited.Decision)
	}

	// Another caller is unaffected.
	other := req
	other.ClientIP = "5.6.7.8"
	other.Password = testPassword
	if _, err := guard.Attempt(ctx, other); err != nil {
		t.Fatalf("other caller: %v", err)
	}
}

func TestLoginGuardLockout(t *testing.T) {
	cfg := defaultGuardConfig()
	cfg.CaptchaThreshold = 100
	guard, clk := newGuardForTest(t, cfg, 2)
	ctx := context.Background()
	req := LoginRequest{Username: "alice", Password: "wrong", ClientIP: "1.2.3.4", ChallengeID: "sess-1"}

	for i := 0; i < 2; i++ {
		if _, err := guard.Attempt(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	good := req
	good.Password = testPassword
	_, err := guard.Attempt(ctx, good)
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}

	clk.Advance(5*time.Minute + time.Second)
	if _, err := guard.Attempt(ctx, good); err != nil {
		t.Fatalf("attempt after lock elapsed: %v", err)
	}
}
