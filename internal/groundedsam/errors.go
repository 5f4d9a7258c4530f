package groundedsam

import (
	"errors"
	"fmt"
)

// ErrServiceNotReady is returned by Ready when the service answers with a
// non-success status, typically while model weights are still loading.
var ErrServiceNotReady = errors.New("grounded sam service not ready")

// TransportError reports a failed network exchange: connection refused,
// DNS failure, timeout or cancellation. No response was received.
type TransportError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the exchange hit its deadline.
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// ProtocolError reports a response that does not have the expected shape.
// Field names the offending envelope field when known.
type ProtocolError struct {
	Field      string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := "unexpected response"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %s", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error { return e.Err }
