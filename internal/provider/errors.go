package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure for retry purposes.
type Kind int

const (
	// KindTransient covers timeouts, transport failures, 5xx, rate limiting and an open breaker.
	KindTransient Kind = iota + 1
	// KindPermanent covers rejected queries, bad credentials and malformed payloads.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var (
	// ErrMissingAPIKey is a configuration error: the client refuses to start without credentials.
	ErrMissingAPIKey = errors.New("provider: api key is required")
	// ErrEmptyQuery indicates that neither a GTIN nor a name fallback was supplied.
	ErrEmptyQuery = errors.New("provider: query must not be empty")
	// ErrMalformedPayload indicates the provider answered with a body that is not a JSON object.
	ErrMalformedPayload = errors.New("provider: malformed payload")
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	return e.Kind == KindTransient
}

// IsTransient reports whether err carries a transient provider classification.
func IsTransient(err error) bool {
	var providerErr *Error
	return errors.As(err, &providerErr) && providerErr.Kind == KindTransient
}

// IsPermanent reports whether err carries a permanent provider classification.
func IsPermanent(err error) bool {
	var providerErr *Error
	return errors.As(err, &providerErr) && providerErr.Kind == KindPermanent
}

func transientError(status int, err error) *Error {
	return &Error{Kind: KindTransient, StatusCode: status, Err: err}
}

func permanentError(status int, err error) *Error {
	return &Error{Kind: KindPermanent, StatusCode: status, Err: err}
}

// classifyStatus maps a non-2xx status onto a failure kind.
func classifyStatus(status int, body string) *Error {
	cause := fmt.Errorf("unexpected status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return transientError(status, cause)
	case status >= 500:
		return transientError(status, cause)
	default:
		return permanentError(status, cause)
	}
}

// classifyTransport maps an http.Client error. Cancellation by the caller is
// permanent, every other transport failure (including timeouts) is transient.
func classifyTransport(parent context.Context, err error) *Error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return permanentError(0, fmt.Errorf("request cancelled: %w", err))
	}
	return transientError(0, err)
}
