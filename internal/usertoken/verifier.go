// Package usertoken validates the HMAC-signed bearer tokens issued by the
// identity provider. The catalog only verifies; it never issues tokens.
package usertoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"booklib/pkg/domain"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Config holds verification settings.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks token signature, lifetime, issuer and audience, and
// extracts the caller identity from the sub and role claims.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewVerifier builds a verifier for HS256 tokens.
func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("usertoken: secret required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &Verifier{secret: []byte(cfg.Secret), opts: opts}, nil
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates a bearer token and returns the identity it
// carries.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	role := domain.RoleUser
	if c.Role == string(domain.RoleAdmin) {
		role = domain.RoleAdmin
	}
	return domain.Identity{UserID: c.Subject, Role: role}, nil
}
