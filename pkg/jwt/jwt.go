package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptySecret  = errors.New("jwt secret must not be empty")
	ErrWrongScope   = errors.New("token scope not allowed")
)

// Claims are the session claims. Subject carries the normalized identity.
// Service tokens carry a Scope and are never accepted as student sessions.
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Scope string `json:"scope,omitempty"`
}

// Identity returns the identity the token was issued for.
func (c *Claims) Identity() string {
	return c.Subject
}

// Manager issues and validates HS256 session tokens. The secret is shared by
// every process that needs to verify a session (chat-api and the gateway).
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewManager creates a Manager. ttl bounds how long an issued token is valid.
func NewManager(secret string, ttl time.Duration, issuer string) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("jwt ttl must be positive, got %s", ttl)
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Issue signs a session token for identity.
func (m *Manager) Issue(identity, name string) (string, time.Time, error) {
	return m.sign(identity, name, "")
}

// IssueScoped signs a service token for subject limited to scope.
func (m *Manager) IssueScoped(subject, scope string) (string, time.Time, error) {
	if scope == "" {
		return "", time.Time{}, ErrWrongScope
	}
	return m.sign(subject, subject, scope)
}

func (m *Manager) sign(subject, name, scope string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:  name,
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate verifies a student session token.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateScope verifies a service token issued for scope.
func (m *Manager) ValidateScope(tokenString, scope string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if scope == "" || claims.Scope != scope {
		return nil, ErrWrongScope
	}
	return claims, nil
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL reports the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
