package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the server explicitly returned 401/403. It is the
// only network outcome allowed to clear a session automatically.
var ErrUnauthorized = errors.New("unauthorized")

// ServerRejected means the server refused the request with a structured
// error. It is surfaced to the caller verbatim.
type ServerRejected struct {
	Code    string
	Message string
}

func (e *ServerRejected) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server rejected request: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("server rejected request: %s", e.Message)
}

// TransportError wraps any network-level failure (timeout, DNS, refused
// connection). Background flows must never treat it as a logout trigger.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is (or wraps) a ServerRejected
func IsRejected(err error) bool {
	var sr *ServerRejected
	return errors.As(err, &sr)
}
