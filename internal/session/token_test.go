package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := svc.Mint("ada")
	require.NoError(t, err)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ada", id.Subject)
	assert.True(t, id.Admin)
	assert.Equal(t, "admin_token", id.Claims["auth_method"])
}

func TestTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService("", time.Hour)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter, err := NewTokenService("secret-a", time.Hour)
	require.NoError(t, err)
	verifier, err := NewTokenService("secret-b", time.Hour)
	require.NoError(t, err)

	token, err := minter.Mint("ada")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	claims := jwt.RegisteredClaims{
		Issuer:    "keystone-admin",
		Subject:   "ada",
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	svc, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "ada",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	svc, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Issuer:    "keystone-admin",
		Subject:   "ada",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(unsigned)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Basic abc"))
}

func TestIdentityContextRoundTrip(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	id := &Identity{Subject: "ada"}
	ctx := WithIdentity(context.Background(), id)
	assert.Same(t, id, FromContext(ctx))
}
