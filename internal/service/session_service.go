package service

import (
	"context"
	"time"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
)

// SessionCookieName is the opaque session cookie set on login.
const SessionCookieName = "gate_session"

// SessionService establishes and resolves login sessions. The cookie value
// never touches storage; only its peppered hash does.
type SessionService struct {
	sessions repository.SessionRepository
	pepper   string
	ttl      time.Duration
	clock    clock.Clock
}

func NewSessionService(sessions repository.SessionRepository, pepper string, ttl time.Duration, clk clock.Clock) *SessionService {
	if clk == nil {
		clk = clock.System()
	}
	return &SessionService{
		sessions: sessions,
		pepper:   pepper,
		ttl:      ttl,
		clock:    clk,
	}
}

// Establish creates a session for an authenticated user and returns the raw
// cookie value. This is the only moment the raw token exists server-side.
func (s *SessionService) Establish(ctx context.Context, user *domain.User, userAgent, ip string) (string, *domain.Session, error) {
	token, err := security.NewSessionToken()
	if err != nil {
		return "", nil, err
	}
	session := &domain.Session{
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		TokenHash: security.HashSessionToken(token, s.pepper),
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: s.clock.Now().Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return "", nil, err
	}
	return token, session, nil
}

// Resolve maps a raw cookie value to its live session. Revoked and expired
// sessions resolve to repository.ErrSessionNotFound.
func (s *SessionService) Resolve(ctx context.Context, rawToken string) (*domain.Session, error) {
	if rawToken == "" {
		return nil, repository.ErrSessionNotFound
	}
	hash := security.HashSessionToken(rawToken, s.pepper)
	return s.sessions.FindActiveByHash(ctx, hash, s.clock.Now())
}

// Revoke ends the session behind a raw cookie value. Revoking an unknown or
// already dead session is a no-op.
func (s *SessionService) Revoke(ctx context.Context, rawToken, reason string) error {
	if rawToken == "" {
		return nil
	}
	hash := security.HashSessionToken(rawToken, s.pepper)
	return s.sessions.RevokeByHash(ctx, hash, reason, s.clock.Now())
}

// RevokeAllForUser ends every live session of a user, used when the account
// is deleted or deactivated.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID uint, reason string) error {
	return s.sessions.RevokeByUserID(ctx, userID, reason, s.clock.Now())
}

// CleanupExpired removes long dead session rows.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.sessions.CleanupExpired(ctx, s.clock.Now())
}

// TTL exposes the configured session lifetime for cookie max-age.
func (s *SessionService) TTL() time.Duration { return s.ttl }
