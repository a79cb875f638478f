package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrBadHeader    = errors.New("bad auth header")
)

// Config describes how tokens are verified. With TestSecret set, tokens are
// HS256 signed with that secret and issuer/audience are not checked.
type Config struct {
	Domain     string
	Audience   string
	TestSecret string
}

// Auth validates bearer tokens issued by Auth0.
type Auth struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	audience string
	issuer   string
	testMode bool
	jwks     *keyfunc.JWKS
}

// New builds an Auth from cfg, fetching the tenant JWKS unless in test mode.
func New(cfg Config) (*Auth, error) {
	if cfg.TestSecret != "" {
		return NewTest([]byte(cfg.TestSecret)), nil
	}
	if cfg.Domain == "" || cfg.Audience == "" {
		return nil, errors.New("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set")
	}
	jwksURL := "https://" + cfg.Domain + "/.well-known/jwks.json"
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	a := NewJWKS(jwks, cfg.Audience, "https://"+cfg.Domain+"/")
	return a, nil
}

// NewJWKS verifies RS256 tokens against jwks.
func NewJWKS(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		keyfunc:  jwks.Keyfunc,
		methods:  []string{"RS256"},
		audience: audience,
		issuer:   issuer,
		jwks:     jwks,
	}
}

// NewTest verifies HS256 tokens signed with secret.
func NewTest(secret []byte) *Auth {
	return &Auth{
		keyfunc:  func(*jwt.Token) (interface{}, error) { return secret, nil },
		methods:  []string{"HS256"},
		testMode: true,
	}
}

// Close stops the background JWKS refresh.
func (a *Auth) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// SubjectFromHeader extracts the subject from an Authorization header.
func (a *Auth) SubjectFromHeader(h string) (string, error) {
	if h == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrBadHeader
	}
	return a.Subject(parts[1])
}

// Subject verifies a raw token and returns its sub claim.
func (a *Auth) Subject(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrMissingToken
	}
	if strings.Count(tokenStr, ".") != 2 {
		return "", ErrBadHeader
	}

	parser := jwt.NewParser(jwt.WithValidMethods(a.methods), jwt.WithoutClaimsValidation())
	token, err := parser.Parse(tokenStr, a.keyfunc)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, !a.testMode) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !a.testMode {
		if !claims.VerifyAudience(a.audience, true) {
			return "", errors.New("invalid audience")
		}
		if !claims.VerifyIssuer(a.issuer, true) {
			return "", errors.New("invalid issuer")
		}
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}
