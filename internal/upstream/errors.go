package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a failed upstream interaction. API handlers map
// kinds to HTTP status codes and metrics label sync failures by kind.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindUpstream   ErrorKind = "upstream"
	KindUnknown    ErrorKind = "unknown"
)

// Error is a classified upstream failure. Message is safe to return to
// API clients; Err carries the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with the given kind and message.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the classification of err, or KindUnknown when err
// carries no classification.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindUnknown
}

// classify wraps a transport-level error from net/http into the
// taxonomy: deadline and net timeouts become KindTimeout, everything
// else at the dial/transport layer becomes KindConnection.
func classify(err error, timeoutMsg, connMsg string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, timeoutMsg, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, timeoutMsg, err)
	}
	return NewError(KindConnection, connMsg, err)
}
