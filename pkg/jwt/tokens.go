package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims defines JWT payload: the user profile as it was at login, without the password.
type Claims struct {
	UserID   string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Photo    string `json:"photo,omitempty"`
	jwtlib.RegisteredClaims
}

// ErrEmptySecret is returned when signing or verifying without a secret.
var ErrEmptySecret = errors.New("jwt: empty signing secret")

// GenerateToken issues a signed JWT carrying claims with the provided secret and ttl.
func GenerateToken(claims Claims, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims.RegisteredClaims = jwtlib.RegisteredClaims{
		Subject:   claims.UserID,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
