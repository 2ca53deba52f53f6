package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates the three token kinds. A token issued as one type
// is never accepted where another is required.
type TokenType string

const (
	TokenTypeAccess        TokenType = "access"
	TokenTypeRefresh       TokenType = "refresh"
	TokenTypePasswordReset TokenType = "password_reset"
)

var (
	ErrExpiredToken   = errors.New("token expired")
	ErrMalformedToken = errors.New("malformed token")
)

// Claims is the signed payload carried by every token. JTI lives in
// RegisteredClaims.ID and is fresh per issuance.
type Claims struct {
	Type  TokenType         `json:"type"`
	Extra map[string]string `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

// JTI returns the token's unique identifier. Payloads without one are
// never trusted.
func (c *Claims) JTI() (string, error) {
	if c.ID == "" {
		return "", ErrMalformedToken
	}
	return c.ID, nil
}

func (c *Claims) IsType(expected TokenType) bool {
	return c.Type == expected
}

// RemainingLifetime is the time until the token's own expiry; zero or
// negative once expired.
func (c *Claims) RemainingLifetime(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// TokenCodec issues and verifies signed, typed, expiring tokens.
type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
}

func NewTokenCodec(secret, algorithm string) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}

	switch algorithm {
	case "", "HS256":
		algorithm = "HS256"
	case "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}

	return &TokenCodec{
		secret: []byte(secret),
		method: jwt.GetSigningMethod(algorithm),
	}, nil
}

// Issue signs a token of the given type for subject. Extra claims are
// accepted for access tokens only.
func (c *TokenCodec) Issue(subject string, tokenType TokenType, ttl time.Duration, extra map[string]string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	if len(extra) > 0 && tokenType != TokenTypeAccess {
		return "", fmt.Errorf("extra claims are not allowed on %s tokens", tokenType)
	}

	now := time.Now().UTC()
	claims := Claims{
		Type:  tokenType,
		Extra: extra,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	encoded, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return encoded, nil
}

// Decode verifies the signature and structure of a token and returns its
// claims. With verifyExpiry false the signature is still checked but an
// expired token is accepted; that path exists so logout can revoke tokens
// that have already expired.
func (c *TokenCodec) Decode(token string, verifyExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{c.method.Alg()})}
	if !verifyExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrMalformedToken
	}
	if !parsed.Valid || claims.Type == "" || claims.Subject == "" {
		return nil, ErrMalformedToken
	}

	return claims, nil
}
