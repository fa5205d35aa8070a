// Package steperr defines the error taxonomy of the cleaning step. Every
// failure that leaves a component is an *Error carrying a Kind, so callers
// can branch on the category with errors.Is without parsing messages.
package steperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindIO                Kind = "io"
	KindValidation        Kind = "validation"
	KindSchema            Kind = "schema"
	KindRegistration      Kind = "registration"
	KindInvalidInvocation Kind = "invalid_invocation"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrIO                = &Error{Kind: KindIO}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrSchema            = &Error{Kind: KindSchema}
	ErrRegistration      = &Error{Kind: KindRegistration}
	ErrInvalidInvocation = &Error{Kind: KindInvalidInvocation}
)

// Error is a categorized failure raised by one operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// New creates a new error. cause may be nil.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Newf is New with a formatted message and no cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
