package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid covers every bearer token defect: bad signature, wrong
// algorithm, malformed payload, expiry.
var ErrTokenInvalid = errors.New("invalid token")

const (
	// issuerName is stamped into the iss claim and reported as issued_by.
	issuerName = "Fletcher"

	// tokenTTL is the fixed lifetime of minted tokens.
	tokenTTL = time.Hour
)

// Claims is the JWT payload minted at login. Roles are recorded at issue
// time for the client's benefit; enforcement re-resolves the account in the
// registry, so the claim is informational.
type Claims struct {
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the HS256 bearer tokens handed out by the
// login endpoint. The secret is process-wide and immutable; rotating it
// invalidates every outstanding token.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a token issuer signing with the given secret.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// Mint signs a token for a service. The token carries sub, iat, exp and
// iss plus the roles granted at issue time; exp is issued + 1 hour.
func (i *TokenIssuer) Mint(service string, roles []Role, issued time.Time) (string, error) {
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(tokenTTL)),
			Issuer:    issuerName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify parses a token, checks the signature with the method pinned to
// HS256, and validates expiry. Every failure is ErrTokenInvalid; callers
// have no reason to distinguish a forged token from an expired one.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	return claims, nil
}
