package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TestToken signs an HS256 token for subject that an Auth built with
// NewTest(secret) accepts.
func TestToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty test secret")
	}
	if subject == "" {
		return "", errors.New("empty subject")
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
