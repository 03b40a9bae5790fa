package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAdminTokenVerifier_Validate_Success(t *testing.T) {
	v := NewJWTAdminTokenVerifier("topsecret")
	tokenStr := signTestToken(t, "topsecret", jwt.MapClaims{
		"sub":   "operator-1",
		"roles": []interface{}{"admin", "ops"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", claims.Subject)
	assert.ElementsMatch(t, []string{"admin", "ops"}, claims.Roles)
}

func TestJWTAdminTokenVerifier_Validate_WrongSecret(t *testing.T) {
	v := NewJWTAdminTokenVerifier("topsecret")
	tokenStr := signTestToken(t, "othersecret", jwt.MapClaims{
		"sub": "operator-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTAdminTokenVerifier_Validate_Expired(t *testing.T) {
	v := NewJWTAdminTokenVerifier("topsecret")
	tokenStr := signTestToken(t, "topsecret", jwt.MapClaims{
		"sub": "operator-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTAdminTokenVerifier_Validate_MissingSubject(t *testing.T) {
	v := NewJWTAdminTokenVerifier("topsecret")
	tokenStr := signTestToken(t, "topsecret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Validate(tokenStr)
	assert.Error(t, err)
}
