package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminIssuer = "keystone-admin"

// TokenService mints and verifies HMAC-signed admin session tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenService builds a token service from the shared secret.
func NewTokenService(secret string, lifetime time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if lifetime <= 0 {
		lifetime = 12 * time.Hour
	}
	return &TokenService{secret: []byte(secret), lifetime: lifetime}, nil
}

// Mint issues a signed token for the subject.
func (s *TokenService) Mint(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    adminIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a minted token and returns the caller's
// identity.
func (s *TokenService) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithIssuer(adminIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil, errors.New("invalid session token claims")
	}
	return &Identity{
		Subject: claims.Subject,
		Issuer:  adminIssuer,
		Admin:   true,
		Claims:  map[string]any{"auth_method": "admin_token"},
	}, nil
}
