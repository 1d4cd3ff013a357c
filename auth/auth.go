package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// AuthModule verifies HMAC-signed JWTs. Tokens are issued elsewhere; Issue
// exists for tooling and tests.
type AuthModule struct {
	secret []byte
	now    func() time.Time
}

func NewAuthModule(secret string) *AuthModule {
	return &AuthModule{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for subject valid for ttl.
func (a *AuthModule) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken checks signature and expiry and returns the subject. The
// subject comes from "sub", falling back to "user_id". A "Bearer " prefix is
// accepted.
func (a *AuthModule) ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return "", fmt.Errorf("%w: missing", ErrInvalidToken)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if sub := subject(claims["sub"]); sub != "" {
		return sub, nil
	}
	if sub := subject(claims["user_id"]); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
}

func subject(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%d", int64(s))
	}
	return ""
}
