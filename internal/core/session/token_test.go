package session

import (
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-ann",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestPreflightTokenEmpty(t *testing.T) {
	assert.ErrorIs(t, preflightToken(""), domain.ErrInvalidToken)
	assert.ErrorIs(t, preflightToken("   "), domain.ErrInvalidToken)
}

func TestPreflightTokenOpaquePasses(t *testing.T) {
	// Provider-specific opaque tokens are not inspected here.
	assert.NoError(t, preflightToken("opaque-room-credential"))
}

func TestPreflightTokenValidJWT(t *testing.T) {
	assert.NoError(t, preflightToken(signedToken(t, time.Now().Add(time.Hour))))
}

func TestPreflightTokenExpiredJWT(t *testing.T) {
	err := preflightToken(signedToken(t, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestPreflightTokenJWTWithoutExpiry(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-ann"})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	assert.NoError(t, preflightToken(signed))
}
