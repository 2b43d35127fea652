package session

import (
	"fmt"
	"strings"
	"time"

	"livecast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// preflightToken rejects credentials that are guaranteed to fail a room
// connect: empty strings and JWTs that are already expired. Opaque
// provider-specific tokens pass through untouched; signature verification
// belongs to the provider, not this client.
func preflightToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return domain.ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a JWT. The provider decides whether it is usable.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return fmt.Errorf("%w: expired at %s", domain.ErrInvalidToken, exp.Format(time.RFC3339))
	}
	return nil
}
