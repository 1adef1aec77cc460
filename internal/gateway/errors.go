package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for the provider failure taxonomy. Callers match with
// errors.Is; the wrapped StatusError keeps the raw response for logs.
var (
	ErrAuth        = errors.New("gateway: authentication failed")
	ErrRateLimited = errors.New("gateway: rate limited")
	ErrMalformed   = errors.New("gateway: malformed provider response")
)

// StatusError is a non-OK HTTP response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: unexpected status %d: %s", e.StatusCode, e.Body)
}

func statusError(code int, body string) error {
	se := &StatusError{StatusCode: code, Body: body}
	switch {
	case code == 401 || code == 403:
		return fmt.Errorf("%w: %w", ErrAuth, se)
	case code == 429:
		return fmt.Errorf("%w: %w", ErrRateLimited, se)
	default:
		return se
	}
}
