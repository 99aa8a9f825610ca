package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sentinel errors for authentication and authorization.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidService indicates the named service has no account.
	ErrInvalidService = errors.New("invalid service")

	// ErrInvalidKey indicates the presented key does not match the
	// account's stored hash.
	ErrInvalidKey = errors.New("invalid key")

	// ErrRoleMissing indicates an authenticated service lacks the role an
	// endpoint requires.
	ErrRoleMissing = errors.New("role missing")
)

// dummyKeyHash is compared against when the service name is unknown, so
// login latency does not reveal which service names exist.
const dummyKeyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Login carries the credentials presented to the login endpoint.
type Login struct {
	Service string
	Key     string
}

// Authenticated is a successful login result: the bearer token plus its
// metadata. Issued and Expires are unix seconds.
type Authenticated struct {
	AccessToken string
	Issued      int64
	IssuedBy    string
	Expires     int64
	Roles       []Role
	Service     string
	TokenType   string
	TTL         int64
}

// Service authenticates logins against the account registry and verifies
// bearer tokens on incoming requests.
type Service struct {
	registry *Registry
	issuer   *TokenIssuer
	logger   *slog.Logger
}

// NewService creates an auth service over a registry and token issuer.
func NewService(registry *Registry, issuer *TokenIssuer, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		issuer:   issuer,
		logger:   logger,
	}
}

// Authenticate verifies a pre-shared key and mints a bearer token carrying
// the account's roles.
func (s *Service) Authenticate(ctx context.Context, login Login) (*Authenticated, error) {
	account, ok := s.registry.Lookup(login.Service)
	if !ok {
		// Burn a comparison anyway so unknown and known services take
		// the same time to reject.
		_, _ = CompareKey(dummyKeyHash, login.Key)

		return nil, fmt.Errorf("%w: %s", ErrInvalidService, login.Service)
	}

	match, err := CompareKey(account.Hash, login.Key)
	if err != nil {
		return nil, err
	}

	if !match {
		s.logger.WarnContext(ctx, "login rejected", "service", login.Service)

		return nil, ErrInvalidKey
	}

	issued := time.Now().UTC()

	token, err := s.issuer.Mint(login.Service, account.Roles, issued)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "service authenticated",
		"service", login.Service,
		"roles", len(account.Roles),
	)

	return &Authenticated{
		AccessToken: token,
		Issued:      issued.Unix(),
		IssuedBy:    issuerName,
		Expires:     issued.Add(tokenTTL).Unix(),
		Roles:       account.Roles,
		Service:     login.Service,
		TokenType:   "Bearer",
		TTL:         int64(tokenTTL.Seconds()),
	}, nil
}

// Verify validates a bearer token and re-resolves its subject in the
// registry. Roles always come from the current registry rather than the
// token, so a role change or account removal takes effect immediately
// instead of waiting out token expiry.
func (s *Service) Verify(token string) (*ServiceAccount, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}

	account, ok := s.registry.Lookup(claims.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidService, claims.Subject)
	}

	return &account, nil
}

// RequireRole asserts that an account holds the given role.
func RequireRole(account *ServiceAccount, role Role) error {
	for _, held := range account.Roles {
		if held == role {
			return nil
		}
	}

	return fmt.Errorf("%w: service %q does not have role %q", ErrRoleMissing, account.Service, role)
}
