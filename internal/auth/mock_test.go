package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeJWT(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return "header." + base64.RawURLEncoding.EncodeToString(raw) + ".signature"
}

// The mock validator must surface the real sub/name claims from whatever
// token the client sends, so the connection identity seen in a SKIP_AUTH
// development session matches what the frontend believes it is.
func TestMockValidator_ExtractsClaimsFromToken(t *testing.T) {
	mock := &MockValidator{}

	claims, err := mock.ValidateToken(fakeJWT(t, map[string]any{
		"sub":   "u_carol",
		"name":  "Carol",
		"email": "carol@dicearena.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, "u_carol", claims.Subject)
	assert.Equal(t, "Carol", claims.Name)
	assert.Equal(t, "carol@dicearena.example", claims.Email)
}

func TestMockValidator_UnparseableTokenUsesDefaults(t *testing.T) {
	mock := &MockValidator{}

	claims, err := mock.ValidateToken("not-a-jwt")
	require.NoError(t, err)
	assert.Equal(t, "dev-user-123", claims.Subject)
	assert.Equal(t, "Dev User", claims.Name)
}

func TestMockValidator_MissingClaimsFallBackIndividually(t *testing.T) {
	mock := &MockValidator{}

	claims, err := mock.ValidateToken(fakeJWT(t, map[string]any{"sub": "u_dave"}))
	require.NoError(t, err)
	assert.Equal(t, "u_dave", claims.Subject)
	assert.Equal(t, "Dev User", claims.Name, "name falls back independently of sub")
}
