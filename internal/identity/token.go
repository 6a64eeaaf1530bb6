// Package identity issues and verifies the signed bearer tokens that carry a
// caller's account, role and organization between requests.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/grc-saas/grc/internal/shared"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 24 * time.Hour
	// DefaultIssuer is stamped into every token.
	DefaultIssuer = "grc-saas"
)

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// wrong algorithm, malformed structure, missing claims or expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingKey is returned when the service is built without a signing key.
	ErrMissingKey = errors.New("identity: signing key required")
)

// Claims is the signed payload of an identity token.
type Claims struct {
	UserID         string      `json:"userId"`
	Email          string      `json:"email"`
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Role           shared.Role `json:"role"`
	OrganizationID string      `json:"organizationId"`
	jwt.RegisteredClaims
}

// Subject is the account data an issued token asserts.
type Subject struct {
	UserID         string
	Email          string
	FirstName      string
	LastName       string
	Role           shared.Role
	OrganizationID string
}

// Service signs and verifies HS256 tokens with a process-wide key.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// NewService constructs a Service. The key must not be empty.
func NewService(signingKey string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, ErrMissingKey
	}
	s := &Service{
		key:    []byte(signingKey),
		issuer: DefaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new token for subject and returns it with its expiry.
func (s *Service) Issue(subject Subject) (string, time.Time, error) {
	if subject.UserID == "" || subject.OrganizationID == "" {
		return "", time.Time{}, fmt.Errorf("identity: subject requires user and organization")
	}
	if !subject.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("identity: invalid role %q", subject.Role)
	}
	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:         subject.UserID,
		Email:          subject.Email,
		FirstName:      subject.FirstName,
		LastName:       subject.LastName,
		Role:           subject.Role,
		OrganizationID: subject.OrganizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and fully validates raw, returning its claims.
func (s *Service) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.OrganizationID == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return claims, nil
}

// Identity converts verified claims into a request identity.
func (c *Claims) Identity() Identity {
	var issuedAt time.Time
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time
	}
	return Identity{
		UserID:         c.UserID,
		Email:          c.Email,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		Role:           c.Role,
		OrganizationID: c.OrganizationID,
		IssuedAt:       issuedAt,
	}
}
