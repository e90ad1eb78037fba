package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// dummyHash is compared against when the username does not resolve, so a
// probe cannot tell a missing account from a wrong password by timing.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Authenticator checks a credential pair against the user store. Unknown
// accounts, wrong passwords and deactivated accounts are all reported as
// ErrInvalidCredentials.
type Authenticator struct {
	users repository.UserRepository
}

func NewAuthenticator(users repository.UserRepository) *Authenticator {
	return &Authenticator{users: users}
}

func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
