package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrNoBackend            = errors.New("no backend registered for protocol")
	ErrMissingConfiguration = errors.New("protocol is not configured for host")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrCommandFailed        = errors.New("command exited with non-zero status")
	ErrUnexpectedStatus     = errors.New("unexpected HTTP status")
)

// Error wraps a backend failure with the operation and target it hit.
type Error struct {
	Op      string
	Kind    Kind
	Target  string
	Wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed for target %s: %v", e.Kind, e.Op, e.Target, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func newError(kind Kind, op, target string, err error) *Error {
	return &Error{Op: op, Kind: kind, Target: target, Wrapped: err}
}
