package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sustainage/admission-gate/internal/domain"
)

func TestLicenseRepositoryCreateAndFindByToken(t *testing.T) {
	repo := NewLicenseRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	l := &domain.License{
		CompanyID: 1,
		Token:     "tok-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		MaxUsers:  5,
		Status:    domain.LicenseStatusActive,
	}
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.FindByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.CompanyID != 1 || got.Status != domain.LicenseStatusActive {
		t.Fatalf("unexpected row: %+v", got)
	}

	if _, err := repo.FindByToken(ctx, "missing"); !errors.Is(err, ErrLicenseNotFound) {
		t.Fatalf("expected ErrLicenseNotFound, got %v", err)
	}
}

func TestLicenseRepositoryLatestActivePrecedence(t *testing.T) {
	repo := NewLicenseRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	older := &domain.License{
		CompanyID: 3, Token: "old", IssuedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(time.Hour), MaxUsers: 5, Status: domain.LicenseStatusActive,
	}
	newer := &domain.License{
		CompanyID: 3, Token: "new", IssuedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(2 * time.Hour), MaxUsers: 10, Status: domain.LicenseStatusActive,
	}
	revoked := &domain.License{
		CompanyID: 3, Token: "rev", IssuedAt: now,
		ExpiresAt: now.Add(2 * time.Hour), MaxUsers: 10, Status: domain.LicenseStatusRevoked,
	}
	for _, l := range []*domain.License{older, newer, revoked} {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("create %s: %v", l.Token, err)
		}
	}

	got, err := repo.FindLatestActiveByCompany(ctx, 3, now)
	if err != nil {
		t.Fatalf("latest active: %v", err)
	}
	if got.Token != "new" {
		t.Fatalf("expected most recently issued active license, got %s", got.Token)
	}
}

func TestLicenseRepositoryRevokeOnlyFlipsActive(t *testing.T) {
	repo := NewLicenseRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	l := &domain.License{
		CompanyID: 1, Token: "tok", IssuedAt: now,
		ExpiresAt: now.Add(time.Hour), MaxUsers: 5, Status: domain.LicenseStatusActive,
	}
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := repo.Revoke(ctx, "tok", "operator request", now)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !changed {
		t.Fatal("expected first revoke to change the row")
	}

	again, err := repo.Revoke(ctx, "tok", "operator request", now)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if again {
		t.Fatal("expected second revoke to be a no-op")
	}

	got, err := repo.FindByToken(ctx, "tok")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.LicenseStatusRevoked || got.RevokedAt == nil {
		t.Fatalf("expected revoked row, got %+v", got)
	}
	if !got.ExpiresAt.Equal(l.ExpiresAt) {
		t.Fatal("expires_at must not change on revoke")
	}
}

func TestLicenseRepositoryExpireStale(t *testing.T) {
	repo := NewLicenseRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &domain.License{
		CompanyID: 1, Token: "stale", IssuedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour), MaxUsers: 5, Status: domain.LicenseStatusActive,
	}
	fresh := &domain.License{
		CompanyID: 1, Token: "fresh", IssuedAt: now,
		ExpiresAt: now.Add(time.Hour), MaxUsers: 5, Status: domain.LicenseStatusActive,
	}
	for _, l := range []*domain.License{stale, fresh} {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("create %s: %v", l.Token, err)
		}
	}

	n, err := repo.ExpireStale(ctx, now)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stale license, got %d", n)
	}
	got, err := repo.FindByToken(ctx, "stale")
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if got.Status != domain.LicenseStatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}
}
