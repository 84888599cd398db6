package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the validity period of an access token.
const DefaultTokenTTL = 3600 * time.Second

// ExpirationLayout is the fixed format used to report token expiry.
const ExpirationLayout = "2006-01-02 15:04:05"

// secretLen is the size of a generated development signing secret.
const secretLen = 32

var (
	// ErrInvalidToken indicates a token that is malformed or has a bad signature.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrEmptySecret indicates a TokenService built without a signing secret.
	ErrEmptySecret = errors.New("signing secret is empty")
	// ErrInvalidTTL indicates a non-positive token lifetime.
	ErrInvalidTTL = errors.New("token ttl must be positive")
)

// Token is a signed bearer token and its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expiration returns the expiry in ExpirationLayout, in UTC.
func (t Token) Expiration() string {
	return t.ExpiresAt.UTC().Format(ExpirationLayout)
}

// TokenService issues and verifies HS256 JWTs carrying a subject id.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and default TTL.
func NewTokenService(secret []byte, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &TokenService{secret: key, ttl: ttl}, nil
}

// GenerateSecret returns a random signing secret for development use.
// Tokens signed with it do not survive a restart.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return secret, nil
}

// TTL returns the default token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject that expires one TTL after now.
func (s *TokenService) Issue(subject string, now time.Time) (Token, error) {
	return s.IssueWithTTL(subject, now, s.ttl)
}

// IssueWithTTL signs a token for subject that expires ttl after now.
func (s *TokenService) IssueWithTTL(subject string, now time.Time, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("token subject is empty")
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	// JWT numeric dates have second precision; truncate so the reported
	// expiry matches the embedded claim.
	issuedAt := now.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and expiry of token as of now and returns its
// subject. A token is valid while now is strictly before its expiry.
func (s *TokenService) Verify(token string, now time.Time) (string, error) {
	claims := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
