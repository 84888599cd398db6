// Package apperr defines the error taxonomy shared by services and handlers.
// Every failure that can reach an HTTP response carries a Kind, and the
// response status is derived from that Kind by a single switch.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	// KindInternal is the zero value so that unclassified errors fail closed.
	KindInternal Kind = iota
	KindMissingToken
	KindMalformedHeader
	KindInvalidToken
	KindExpired
	KindUnauthorized
	KindUnprocessable
	KindNotFound
	KindConflict
	KindTooManyRequests
	KindPayloadTooLarge
)

// String returns the log-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMissingToken:
		return "missing_token"
	case KindMalformedHeader:
		return "malformed_header"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpired:
		return "expired"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnprocessable:
		return "unprocessable"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "internal"
	}
}

// Public messages. Authentication failures share one message.
const (
	MessageUnauthorized       = "Unauthorized"
	MessageInvalidCredentials = "Invalid credentials"
	MessageInvalidPassword    = "Invalid password"
	MessageUnprocessable      = "Unprocessable Content"
	MessageUserNotFound       = "User not found"
	MessageEmailExists        = "Email already registered"
	MessageSamePassword       = "New password must differ from the old password"
	MessageInternal           = "Internal Server Error"
	MessageTooManyRequests    = "Too Many Requests"
	MessageBodyTooLarge       = "Request body too large"
)

// Error is an error annotated with a Kind and a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements error. The wrapped cause is included for logs only.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status maps a Kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindMissingToken, KindMalformedHeader, KindInvalidToken, KindExpired, KindUnauthorized:
		return http.StatusUnauthorized
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the status code and message that may be shown to a client.
// Token-level failures never reveal which check failed, and internal errors
// never expose their cause.
func Public(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, MessageInternal
	}

	status := Status(e.Kind)
	switch e.Kind {
	case KindMissingToken, KindMalformedHeader, KindInvalidToken, KindExpired:
		return status, MessageUnauthorized
	case KindInternal:
		return status, MessageInternal
	}

	if e.Message == "" {
		return status, http.StatusText(status)
	}
	return status, e.Message
}
