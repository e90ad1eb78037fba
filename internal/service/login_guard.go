package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/observability"
	"github.com/sustainage/admission-gate/internal/security"
)

var (
	// ErrCaptchaRequired means the attempt was not evaluated: the caller must
	// fetch a challenge and resubmit with the solution.
	ErrCaptchaRequired = errors.New("captcha required")
	ErrCaptchaMismatch = errors.New("captcha mismatch")
)

// RateLimitedError carries the limiter decision so handlers can surface the
// retry hint without re-checking.
type RateLimitedError struct {
	Decision Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.Decision.ResetIn)
}

// GuardConfig bundles the login defense thresholds. EscalationTTL bounds how
// long the per-session failure count lives; letting it lapse only drops the
// CAPTCHA demand, never the durable lockout.
type GuardConfig struct {
	LoginMax         int
	LoginWindow      time.Duration
	CaptchaThreshold int
	CaptchaTTL       time.Duration
	CaptchaDigits    int
	EscalationTTL    time.Duration
}

// LoginRequest is one credential submission. ChallengeID identifies the
// browser's login session for CAPTCHA escalation; ClientIP keys the rate
// limiter.
type LoginRequest struct {
	Username    string
	Password    string
	CaptchaCode string
	ClientIP    string
	ChallengeID string
}

// LoginGuard stacks the three login defenses in fixed order: rate limit
// first, lockout second, CAPTCHA third, and only then the credential check.
// An earlier rejection means the later, more expensive checks never run.
type LoginGuard struct {
	limiter    RateLimiter
	lockouts   *LockoutService
	challenges ChallengeStore
	auth       *Authenticator
	cfg        GuardConfig
}

func NewLoginGuard(limiter RateLimiter, lockouts *LockoutService, challenges ChallengeStore, auth *Authenticator, cfg GuardConfig) *LoginGuard {
	return &LoginGuard{
		limiter:    limiter,
		lockouts:   lockouts,
		challenges: challenges,
		auth:       auth,
		cfg:        cfg,
	}
}

// IssueChallenge generates and stores a fresh CAPTCHA code for the login
// session, replacing any outstanding one. The handler owns presentation.
func (g *LoginGuard) IssueChallenge(ctx context.Context, challengeID string) (string, error) {
	code, err := security.NewCaptchaCode(g.cfg.CaptchaDigits)
	if err != nil {
		return "", err
	}
	if err := g.challenges.PutCode(ctx, challengeID, code, g.cfg.CaptchaTTL); err != nil {
		return "", err
	}
	return code, nil
}

// CaptchaNeeded reports whether the next attempt for this login session must
// carry a CAPTCHA solution.
func (g *LoginGuard) CaptchaNeeded(ctx context.Context, challengeID string) (bool, error) {
	failures, err := g.challenges.Failures(ctx, challengeID)
	if err != nil {
		return false, err
	}
	return failures >= g.cfg.CaptchaThreshold, nil
}

// Attempt evaluates one login. A nil error means the credentials were
// accepted and all defense state for the identity was reset.
func (g *LoginGuard) Attempt(ctx context.Context, req LoginRequest) (*domain.User, error) {
	decision, err := g.limiter.Check(ctx, "login", req.ClientIP, g.cfg.LoginMax, g.cfg.LoginWindow)
	if err != nil {
		// Fail closed: an unanswerable limiter must not admit a flood.
		return nil, err
	}
	if !decision.Allowed {
		observability.RecordLoginAttempt(ctx, "rate_limited")
		return nil, &RateLimitedError{Decision: decision}
	}

	if err := g.lockouts.CanAttempt(ctx, req.Username); err != nil {
		var locked *AccountLockedError
		if errors.As(err, &locked) {
			observability.RecordLoginAttempt(ctx, "locked")
		}
		return nil, err
	}

	needed, err := g.CaptchaNeeded(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}
	if needed {
		if req.CaptchaCode == "" {
			observability.RecordLoginAttempt(ctx, "captcha_required")
			return nil, ErrCaptchaRequired
		}
		stored, err := g.challenges.TakeCode(ctx, req.ChallengeID)
		if err != nil {
			return nil, err
		}
		if stored == "" || !security.ConstantTimeEquals(stored, req.CaptchaCode) {
			observability.RecordLoginAttempt(ctx, "captcha_mismatch")
			// The credentials are still evaluated: a wrong password hidden
			// behind a wrong captcha counts against the account like any
			// other failure. A correct password does not, the mismatch alone
			// is not a credential failure.
			if _, aerr := g.auth.Authenticate(ctx, req.Username, req.Password); aerr != nil {
				if !errors.Is(aerr, ErrInvalidCredentials) {
					return nil, aerr
				}
				if ferr := g.recordCredentialFailure(ctx, req); ferr != nil {
					return nil, ferr
				}
			}
			return nil, ErrCaptchaMismatch
		}
	}

	user, err := g.auth.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		observability.RecordLoginAttempt(ctx, "invalid_credentials")
		if ferr := g.recordCredentialFailure(ctx, req); ferr != nil {
			return nil, ferr
		}
		// The attempt that arms the lock still reports invalid credentials;
		// the lock is only visible from the next attempt on.
		return nil, ErrInvalidCredentials
	}

	if err := g.lockouts.RecordSuccess(ctx, req.Username); err != nil {
		return nil, err
	}
	if err := g.challenges.ResetFailures(ctx, req.ChallengeID); err != nil {
		return nil, err
	}
	observability.RecordLoginAttempt(ctx, "success")
	return user, nil
}

// recordCredentialFailure charges one failed credential check to both the
// durable per-identity lockout and the per-session escalation counter.
func (g *LoginGuard) recordCredentialFailure(ctx context.Context, req LoginRequest) error {
	if _, _, err := g.lockouts.RecordFailure(ctx, req.Username); err != nil {
		return err
	}
	if _, err := g.challenges.IncrementFailures(ctx, req.ChallengeID, g.cfg.EscalationTTL); err != nil {
		return err
	}
	return nil
}
