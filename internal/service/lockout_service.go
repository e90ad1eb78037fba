package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/repository"
)

// AccountLockedError reports an armed lockout. RetryIn is rounded up to a
// whole second so clients never retry a moment too early.
type AccountLockedError struct {
	Until   time.Time
	RetryIn time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %s", e.RetryIn)
}

// LockoutService drives the durable per-identity failure counter and the
// progressive lock. The counter survives restarts; an identity that keeps
// failing across sessions still locks out.
type LockoutService struct {
	states      repository.LockoutRepository
	clock       clock.Clock
	maxAttempts int
	duration    time.Duration
}

func NewLockoutService(states repository.LockoutRepository, clk clock.Clock, maxAttempts int, duration time.Duration) *LockoutService {
	if clk == nil {
		clk = clock.System()
	}
	return &LockoutService{
		states:      states,
		clock:       clk,
		maxAttempts: maxAttempts,
		duration:    duration,
	}
}

// CanAttempt rejects with AccountLockedError while a lock is armed. An
// elapsed lock is cleared on the way through, so the next failure starts a
// fresh count instead of instantly re-locking.
func (s *LockoutService) CanAttempt(ctx context.Context, identity string) error {
	state, err := s.states.Find(ctx, identity)
	if err != nil {
		if errors.Is(err, repository.ErrLockoutStateNotFound) {
			return nil
		}
		return err
	}
	if state.LockedUntil == nil {
		return nil
	}
	now := s.clock.Now()
	if state.LockedUntil.After(now) {
		retry := state.LockedUntil.Sub(now)
		return &AccountLockedError{
			Until:   *state.LockedUntil,
			RetryIn: retry.Truncate(time.Second) + time.Second,
		}
	}
	return s.states.ClearLock(ctx, identity)
}

// RecordFailure bumps the counter and arms the lock once the threshold is
// reached. Returns the attempt count and whether this failure locked the
// account.
func (s *LockoutService) RecordFailure(ctx context.Context, identity string) (attempts int, locked bool, err error) {
	state, err := s.states.IncrementFailure(ctx, identity, s.clock.Now())
	if err != nil {
		return 0, false, err
	}
	if state.FailedAttempts < s.maxAttempts {
		return state.FailedAttempts, false, nil
	}
	until := s.clock.Now().Add(s.duration)
	if err := s.states.SetLock(ctx, identity, until); err != nil {
		return state.FailedAttempts, false, err
	}
	return state.FailedAttempts, true, nil
}

// RecordSuccess wipes the failure state after a completed login.
func (s *LockoutService) RecordSuccess(ctx context.Context, identity string) error {
	return s.states.Reset(ctx, identity)
}
