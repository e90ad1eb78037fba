package service

import (
	"context"
	"errors"
	"time"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
)

var (
	// ErrLicenseUnknown means the token carried a valid signature but no
	// matching row exists, for example after a store restore.
	ErrLicenseUnknown   = errors.New("license unknown")
	ErrLicenseRevoked   = errors.New("license revoked")
	ErrLicenseNotActive = errors.New("license not active")
	ErrNoActiveLicense  = errors.New("no active license for company")
	// ErrLicenseCompanyMismatch means the signed claims and the stored row
	// disagree on the tenant. The token lookup is by exact string, so this
	// only fires on a corrupted or manipulated store.
	ErrLicenseCompanyMismatch = errors.New("license company mismatch")
)

// VerifiedLicense is the admission-relevant view of a token that passed
// every check.
type VerifiedLicense struct {
	LicenseID uint
	CompanyID uint
	MaxUsers  int
	ExpiresAt time.Time
}

// LicenseService issues, verifies and revokes license tokens. Verification
// is signature first, expiry second, revocation last; the cryptographic
// checks never touch storage, so a tampered or stale token is rejected even
// when the database is down.
type LicenseService struct {
	codec    *security.TokenCodec
	licenses repository.LicenseRepository
	clock    clock.Clock

	denials   DenialCache
	denialTTL time.Duration
}

func NewLicenseService(codec *security.TokenCodec, licenses repository.LicenseRepository, clk clock.Clock) *LicenseService {
	if clk == nil {
		clk = clock.System()
	}
	return &LicenseService{
		codec:    codec,
		licenses: licenses,
		clock:    clk,
		denials:  NewNoopDenialCache(),
	}
}

// UseDenialCache short-circuits repeated rejections of the same token for up
// to ttl. Revocations seed the cache directly, so the window only delays
// rediscovery of unknown tokens, never of revocations.
func (s *LicenseService) UseDenialCache(cache DenialCache, ttl time.Duration) {
	if cache == nil || ttl <= 0 {
		return
	}
	s.denials = cache
	s.denialTTL = ttl
}

// Issue signs a fresh token valid for validFor and persists its row. Issuing
// does not revoke earlier licenses; the newest active one wins at lookup.
func (s *LicenseService) Issue(ctx context.Context, companyID uint, maxUsers int, validFor time.Duration) (string, *domain.License, error) {
	now := s.clock.Now()
	token, claims, err := s.codec.Issue(companyID, maxUsers, now.Add(validFor))
	if err != nil {
		return "", nil, err
	}
	l := &domain.License{
		CompanyID: companyID,
		Token:     token,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		MaxUsers:  maxUsers,
		Status:    domain.LicenseStatusActive,
	}
	if err := s.licenses.Create(ctx, l); err != nil {
		return "", nil, err
	}
	// A store restore can resurrect rows for tokens the cache marked unknown.
	_ = s.denials.Invalidate(ctx, DenialVerdictUnknown)
	return token, l, nil
}

// Verify admits or rejects a raw token. Order matters: a bad signature is
// reported as such even when the token would also be expired or revoked.
func (s *LicenseService) Verify(ctx context.Context, raw string) (*VerifiedLicense, error) {
	claims, err := s.codec.Decode(raw)
	if err != nil {
		return nil, err
	}
	if hit, err := s.denials.Get(ctx, DenialVerdictRevoked, raw); err == nil && hit {
		return nil, ErrLicenseRevoked
	}
	if hit, err := s.denials.Get(ctx, DenialVerdictUnknown, raw); err == nil && hit {
		return nil, ErrLicenseUnknown
	}
	row, err := s.licenses.FindByToken(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			_ = s.denials.Set(ctx, DenialVerdictUnknown, raw, s.denialTTL)
			return nil, ErrLicenseUnknown
		}
		return nil, err
	}
	if row.Status == domain.LicenseStatusRevoked {
		_ = s.denials.Set(ctx, DenialVerdictRevoked, raw, s.denialTTL)
		return nil, ErrLicenseRevoked
	}
	if row.Status != domain.LicenseStatusActive {
		return nil, ErrLicenseNotActive
	}
	if row.CompanyID != claims.CompanyID {
		return nil, ErrLicenseCompanyMismatch
	}
	return &VerifiedLicense{
		LicenseID: row.ID,
		CompanyID: claims.CompanyID,
		MaxUsers:  claims.MaxUsers,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ActiveForCompany resolves the license to admit a session-bound request
// that carries no explicit token.
func (s *LicenseService) ActiveForCompany(ctx context.Context, companyID uint) (*domain.License, error) {
	l, err := s.licenses.FindLatestActiveByCompany(ctx, companyID, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, ErrNoActiveLicense
		}
		return nil, err
	}
	return l, nil
}

// Revoke takes a license out of service immediately. Revoking an already
// revoked or expired license reports ErrLicenseNotActive rather than
// silently succeeding.
func (s *LicenseService) Revoke(ctx context.Context, token, reason string) error {
	changed, err := s.licenses.Revoke(ctx, token, reason, s.clock.Now())
	if err != nil {
		return err
	}
	if changed {
		_ = s.denials.Set(ctx, DenialVerdictRevoked, token, s.denialTTL)
		return nil
	}
	if _, err := s.licenses.FindByToken(ctx, token); err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return ErrLicenseUnknown
		}
		return err
	}
	return ErrLicenseNotActive
}

// SettleExpired flips status on licenses past their expiry. Admission never
// depends on this; it is housekeeping for operator queries.
func (s *LicenseService) SettleExpired(ctx context.Context) (int64, error) {
	return s.licenses.ExpireStale(ctx, s.clock.Now())
}
