package vm

import (
	"errors"
	"fmt"
)

// Kind classifies controller failures.
type Kind int

const (
	KindVirtualization      Kind = iota + 1 // the host reported a failure
	KindOperationFailed                     // the operation is not possible now
	KindValidationFailed                    // the machine rejected the request up front
	KindResourceUnavailable                 // a host resource could not be acquired
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindVirtualization:
		return "virtualization error"
	case KindOperationFailed:
		return "operation failed"
	case KindValidationFailed:
		return "validation failed"
	case KindResourceUnavailable:
		return "resource unavailable"
	case KindIO:
		return "io error"
	default:
		return "unknown error"
	}
}

// Error is returned by Controller operations.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrVirtualization      = &Error{Kind: KindVirtualization}
	ErrOperationFailed     = &Error{Kind: KindOperationFailed}
	ErrValidationFailed    = &Error{Kind: KindValidationFailed}
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
	ErrIO                  = &Error{Kind: KindIO}
)

func (e *Error) Error() string {
	s := "vm: " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}
