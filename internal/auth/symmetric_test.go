package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret string, claims CustomClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestSymmetricValidator_ValidToken(t *testing.T) {
	secret := "a-very-long-shared-secret-for-testing-purposes"
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "player-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := signHS256(t, secret, claims)

	v := NewSymmetricValidator(secret, "")
	got, err := v.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "player-1", got.Subject)
}

func TestSymmetricValidator_WrongSecretRejected(t *testing.T) {
	claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "player-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	tok := signHS256(t, "secret-one-is-long-enough-for-hs256", claims)

	v := NewSymmetricValidator("secret-two-is-also-long-enough-ok", "")
	_, err := v.ValidateToken(tok)
	assert.Error(t, err)
}

func TestSymmetricValidator_ToleratesSmallClockSkew(t *testing.T) {
	secret := "a-very-long-shared-secret-for-testing-purposes"
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "player-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Second)),
		},
	}
	tok := signHS256(t, secret, claims)

	v := NewSymmetricValidator(secret, "")
	_, err := v.ValidateToken(tok)
	assert.NoError(t, err, "expired 10s ago should still pass within the 30s leeway")
}

func TestChainValidator_FallsBackToSecondValidator(t *testing.T) {
	secret := "a-very-long-shared-secret-for-testing-purposes"
	claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "player-2", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	tok := signHS256(t, secret, claims)

	failing := NewSymmetricValidator("a-totally-different-secret-value", "")
	working := NewSymmetricValidator(secret, "")
	chain := NewChainValidator(failing, working)

	got, err := chain.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "player-2", got.Subject)
}

func TestChainValidator_AllFail(t *testing.T) {
	chain := NewChainValidator(
		NewSymmetricValidator("secret-one-is-long-enough-for-hs256", ""),
		NewSymmetricValidator("secret-two-is-also-long-enough-ok", ""),
	)
	_, err := chain.ValidateToken("not-a-real-token")
	assert.Error(t, err)
}
