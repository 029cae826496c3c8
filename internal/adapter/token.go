package adapter

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "autopost-dispatch"

// MintServiceToken issues a short-lived HS256 token the dispatch client
// presents to adapter endpoints. The audience is the target platform id so
// a token for one adapter cannot be replayed against another.
func MintServiceToken(secret []byte, platformID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("adapter token secret required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{platformID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyServiceToken validates a token minted by MintServiceToken for the
// given platform id.
func VerifyServiceToken(secret []byte, platformID, token string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(platformID), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("verify service token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("service token invalid")
	}
	return nil
}
