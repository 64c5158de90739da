// Package credentials mints and verifies the two bearer credentials of
// the gateway: the operator session token and the intent-scoped agent
// delegation token. Both share one claim shape and signing secret; only
// the TTL differs, and the delegation TTL is strictly shorter.
package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized wraps every token verification failure so callers can
// map it to a 401 without inspecting jwt internals.
var ErrUnauthorized = errors.New("invalid or expired token")

// Claims are the JWT claims carried by both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
	Auth  string   `json:"auth"`
}

// Service issues and verifies gateway tokens.
type Service struct {
	secret        []byte
	method        jwt.SigningMethod
	serverID      string
	sessionTTL    time.Duration
	delegationTTL time.Duration
	clock         func() time.Time
	bcryptCost    int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the token clock for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService builds a credential service. algorithm is pinned: tokens
// signed with any other method (including "none") are rejected.
func NewService(secret, algorithm, serverID string, sessionTTL, delegationTTL time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("credentials: signing secret is required")
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("credentials: unknown signing algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("credentials: algorithm %q is not an HMAC method", algorithm)
	}
	if delegationTTL >= sessionTTL {
		return nil, fmt.Errorf("credentials: delegation TTL %s must be shorter than session TTL %s", delegationTTL, sessionTTL)
	}

	s := &Service{
		secret:        []byte(secret),
		method:        method,
		serverID:      serverID,
		sessionTTL:    sessionTTL,
		delegationTTL: delegationTTL,
		clock:         time.Now,
		bcryptCost:    bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HashPassword hashes a plaintext password with bcrypt.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("credentials: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash.
func (s *Service) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EncodeSession mints an operator session token.
func (s *Service) EncodeSession(username string, roles []string) (string, error) {
	return s.encode(username, roles, s.sessionTTL)
}

// EncodeDelegation mints an agent delegation token. roles carries the
// operator's original roles extended with the scope_data entry.
func (s *Service) EncodeDelegation(username string, roles []string) (string, error) {
	return s.encode(username, roles, s.delegationTTL)
}

func (s *Service) encode(username string, roles []string, ttl time.Duration) (string, error) {
	now := s.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
		Auth:  s.serverID,
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("credentials: sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token's signature, algorithm, expiry, and issuing
// server. Every failure collapses to ErrUnauthorized.
func (s *Service) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.clock() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Auth != s.serverID {
		return nil, fmt.Errorf("%w: wrong issuing server", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	return claims, nil
}

// DelegationTTL exposes the configured delegation lifetime.
func (s *Service) DelegationTTL() time.Duration { return s.delegationTTL }

// SessionTTL exposes the configured session lifetime.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }
