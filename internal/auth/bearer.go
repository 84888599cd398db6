package auth

import (
	"errors"
	"strings"
	"time"
)

// AuthorizationHeader is the request header carrying the bearer token.
const AuthorizationHeader = "Authorization"

const bearerScheme = "bearer"

var (
	// ErrMissingToken indicates the credential header is absent or empty.
	ErrMissingToken = errors.New("missing token")
	// ErrMalformedHeader indicates a header not of the form "Bearer <token>".
	ErrMalformedHeader = errors.New("malformed authorization header")
)

// ExtractBearer returns the token from an Authorization header value.
// The scheme is matched case-insensitively and must be followed by exactly
// one space and a non-empty token without further whitespace.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrMalformedHeader
	}
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", ErrMalformedHeader
	}

	return token, nil
}

// TokenVerifier verifies a bearer token and returns its subject.
type TokenVerifier interface {
	Verify(token string, now time.Time) (string, error)
}

// Authenticator maps an Authorization header to a principal id.
type Authenticator struct {
	tokens TokenVerifier
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator backed by tokens.
// A nil clock defaults to time.Now.
func NewAuthenticator(tokens TokenVerifier, clock func() time.Time) *Authenticator {
	if clock == nil {
		clock = time.Now
	}
	return &Authenticator{tokens: tokens, now: clock}
}

// Authenticate extracts and verifies the bearer token in header.
// The returned error is one of ErrMissingToken, ErrMalformedHeader,
// ErrInvalidToken or ErrTokenExpired (possibly wrapped).
func (a *Authenticator) Authenticate(header string) (string, error) {
	token, err := ExtractBearer(header)
	if err != nil {
		return "", err
	}

	subject, err := a.tokens.Verify(token, a.now())
	if err != nil {
		return "", err
	}

	return subject, nil
}

// FailureReason returns a short label for a pipeline error, for logs and
// metrics only.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "unknown"
	}
}
