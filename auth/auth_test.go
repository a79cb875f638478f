package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestSubjectFromHeaderManyPeriods(t *testing.T) {
	a := NewTest([]byte("secret"))
	header := "Bearer " + strings.Repeat(".", 10000)
	if _, err := a.SubjectFromHeader(header); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestSubjectFromHeader(t *testing.T) {
	a := NewTest([]byte("secret"))
	tok := sign(t, "secret", jwt.MapClaims{"sub": "user1", "exp": time.Now().Add(time.Hour).Unix()})

	sub, err := a.SubjectFromHeader("Bearer " + tok)
	if err != nil || sub != "user1" {
		t.Fatalf("expected user1, got %q %v", sub, err)
	}
	if _, err := a.SubjectFromHeader(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := a.SubjectFromHeader("Basic " + tok); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected bad header for basic scheme, got %v", err)
	}
}

func TestSubjectRejects(t *testing.T) {
	a := NewTest([]byte("secret"))
	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": "u"}),
		"expired":      sign(t, "secret", jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}),
		"not before":   sign(t, "secret", jwt.MapClaims{"sub": "u", "nbf": time.Now().Add(time.Hour).Unix()}),
		"missing sub":  sign(t, "secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
	}
	for name, tok := range cases {
		if _, err := a.Subject(tok); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSubjectRejectsUnexpectedMethod(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u"}).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTest([]byte("secret")).Subject(tok); err == nil {
		t.Fatal("expected RS256 token to be rejected in test mode")
	}
}

func TestNewRequiresTenant(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without domain and audience")
	}
	a, err := New(Config{TestSecret: "s"})
	if err != nil || !a.testMode {
		t.Fatalf("expected test mode auth, got %+v %v", a, err)
	}
	a.Close()
}

func TestTestTokenRoundTrip(t *testing.T) {
	a := NewTest([]byte("s3cret"))
	tok, err := TestToken([]byte("s3cret"), "picker-7", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := a.SubjectFromHeader("Bearer " + tok)
	if err != nil || sub != "picker-7" {
		t.Fatalf("got %q, %v", sub, err)
	}

	if _, err := TestToken(nil, "x", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := TestToken([]byte("s"), "", time.Hour); err == nil {
		t.Fatal("expected error for empty subject")
	}

	expired, err := TestToken([]byte("s3cret"), "picker-7", -time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := a.Subject(expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
