package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors. Use errors.Is() to check for these errors in calling code.
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// defaultTTL applies when GenerateToken is given no lifetime.
const defaultTTL = 12 * time.Hour

// Claims are the verified contents of a token.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateToken signs a token for subject. An empty issuer is omitted.
func GenerateToken(subject, secret, issuer string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
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

// ParseToken verifies raw and returns its claims. The issuer is checked
// when non-empty. Expired tokens return ErrTokenExpired; every other
// failure wraps ErrTokenInvalid.
func ParseToken(raw, secret, issuer string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}
