package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sustainage/admission-gate/internal/clock"
)

var (
	ErrSignatureInvalid = errors.New("license signature invalid")
	ErrLicenseExpired   = errors.New("license expired")
)

// LicenseClaims is the signed content of a license token. The registered
// claim ID carries the per-license unique id, ExpiresAt the hard expiry.
type LicenseClaims struct {
	CompanyID uint `json:"company_id"`
	MaxUsers  int  `json:"max_users"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies license tokens with a symmetric HS256 key.
// It performs no I/O: Decode rejects a bad signature or a stale expiry even
// when the backing store is unreachable.
type TokenCodec struct {
	issuer string
	secret []byte
	clock  clock.Clock
}

func NewTokenCodec(issuer, secret string, clk clock.Clock) *TokenCodec {
	if clk == nil {
		clk = clock.System()
	}
	return &TokenCodec{issuer: issuer, secret: []byte(secret), clock: clk}
}

// Issue signs a token for the given company. IssuedAt and the unique id are
// filled here; expiry is the caller's decision.
func (c *TokenCodec) Issue(companyID uint, maxUsers int, expiresAt time.Time) (string, LicenseClaims, error) {
	claims := LicenseClaims{
		CompanyID: companyID,
		MaxUsers:  maxUsers,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(c.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", LicenseClaims{}, err
	}
	return token, claims, nil
}

// Decode verifies the signature before inspecting any claim, then checks
// expiry against the codec's clock. Storage is never consulted here.
func (c *TokenCodec) Decode(raw string) (*LicenseClaims, error) {
	claims := &LicenseClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithTimeFunc(c.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLicenseExpired
		}
		// Malformed tokens and wrong-key signatures are indistinguishable to
		// the caller on purpose.
		return nil, ErrSignatureInvalid
	}
	if !tok.Valid {
		return nil, ErrSignatureInvalid
	}
	return claims, nil
}
