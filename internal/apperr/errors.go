package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind discriminates failures surfaced to callers.
type Kind string

const (
	KindInvalidFormat       Kind = "InvalidFormat"
	KindPayloadTooLarge     Kind = "PayloadTooLarge"
	KindUnauthenticated     Kind = "Unauthenticated"
	KindRateLimitExceeded   Kind = "RateLimitExceeded"
	KindProviderRateLimited Kind = "ProviderRateLimited"
	KindRecognitionTimeout  Kind = "RecognitionTimeout"
	KindNoFoodDetected      Kind = "NoFoodDetected"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindPersistenceFailure  Kind = "PersistenceFailure"
	KindInternal            Kind = "Internal"
)

// Error is a classified failure. Message is caller-safe; Err is the internal
// cause and is only ever logged.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with the default caller-facing message for kind.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: DefaultMessage(kind), Err: cause}
}

// Newf returns an Error with a custom caller-facing message.
// The message must not contain upstream text.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithRetryAfter returns an Error carrying a retry hint.
func WithRetryAfter(kind Kind, retryAfter time.Duration, cause error) *Error {
	e := New(kind, cause)
	e.RetryAfter = retryAfter
	return e
}

// KindOf returns the kind of err, or KindInternal if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the retry hint attached to err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return DefaultMessage(KindInternal)
}

// HTTPStatus maps a kind to the status code returned to callers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidFormat:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimitExceeded, KindProviderRateLimited:
		return http.StatusTooManyRequests
	case KindRecognitionTimeout:
		return http.StatusGatewayTimeout
	case KindNoFoodDetected:
		return http.StatusUnprocessableEntity
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DefaultMessage is the fixed caller-facing text for each kind.
func DefaultMessage(kind Kind) string {
	switch kind {
	case KindInvalidFormat:
		return "image payload is missing or not a supported image type"
	case KindPayloadTooLarge:
		return "image exceeds the maximum allowed size"
	case KindUnauthenticated:
		return "authentication required"
	case KindRateLimitExceeded:
		return "too many analysis requests, try again later"
	case KindProviderRateLimited:
		return "recognition service is busy, try again later"
	case KindRecognitionTimeout:
		return "recognition timed out"
	case KindNoFoodDetected:
		return "no food detected in image"
	case KindProviderUnavailable:
		return "recognition service unavailable"
	case KindPersistenceFailure:
		return "failed to persist analysis"
	default:
		return "internal error"
	}
}
