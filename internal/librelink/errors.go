package librelink

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse indicates a response that decoded as JSON but did not
// contain the expected fields.
var ErrMalformedResponse = errors.New("malformed response")

// TransportError wraps a network-level failure (unreachable host, timeout).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError carries a structured error payload returned by the vendor cloud,
// or a bare non-2xx status when no payload message was present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("unexpected status: %d", e.Status)
}
