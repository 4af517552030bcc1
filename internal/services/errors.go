package services

import (
	"errors"
	"fmt"
)

// Error kinds. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrNotAuthorized = errors.New("not authorized")
	ErrConflict      = errors.New("conflict")
	ErrBadInput      = errors.New("bad input")
)

// Error carries a client-facing message alongside one of the error kinds.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message returns the client-facing message of err, or fallback when err
// does not carry one.
func Message(err error, fallback string) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return fallback
}
