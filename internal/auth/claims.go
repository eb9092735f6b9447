package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/device-ledger/internal/ledger"
)

// defaultTokenTTL applies when the caller passes a non-positive TTL.
const defaultTokenTTL = 15 * time.Minute

// Claims is the JWT payload. Subject holds the caller principal.
type Claims struct {
	jwt.RegisteredClaims
}

// Principal returns the validated caller principal carried in the subject.
func (c *Claims) Principal() (ledger.Principal, error) {
	p, err := ledger.ParsePrincipal(c.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: subject: %w", ErrTokenInvalid, err)
	}
	return p, nil
}

// GenerateToken creates a signed token identifying principal.
//
// Parameters:
//   - secret: HMAC key (the security.jwt.secret setting)
//   - issuer: Value of the iss claim, checked by ParseToken
//   - principal: Caller identity placed in sub
//   - ttl: Lifetime; non-positive values use 15 minutes
//
// Returns:
//   - string: Compact JWS
//   - error: If the secret is empty or signing fails
func GenerateToken(secret, issuer string, principal ledger.Principal, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims.
// It checks the signature, algorithm, expiry, issuer and that the subject is
// a well-formed principal.
func ParseToken(tokenString, secret, issuer string) (*Claims, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if _, err := claims.Principal(); err != nil {
		return nil, err
	}

	return claims, nil
}
