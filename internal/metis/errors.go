package metis

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds shared by every package that builds gateway requests.
var (
	// ErrUpstream marks every failure that originates at or on the way to the gateway.
	ErrUpstream = errors.New("upstream failure")
	// ErrMalformedInput marks user supplied JSON or options that cannot be used.
	ErrMalformedInput = errors.New("malformed input")
	// ErrMissingRequiredField marks a value that must be present but is not,
	// whether supplied by the user or expected in a gateway response.
	ErrMissingRequiredField = errors.New("missing required field")
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metis api error %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUpstream
}

func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}

func IsAuthError(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden
	}
	return false
}

func IsNotFound(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusNotFound
	}
	return false
}
