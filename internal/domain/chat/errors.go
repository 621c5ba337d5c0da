package chat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for uniform reporting.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindValidation   ErrorKind = "validation"
	KindNetwork      ErrorKind = "network"
	KindServer       ErrorKind = "server"
)

// Error is the normalized failure returned across the client boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrServer       = &Error{Kind: KindServer}
)

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validationf is shorthand for input errors detected before any call is made.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any Error of the same kind when target carries no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf extracts the kind of err; unknown errors count as server failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// UserMessage is the text shown to the user for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
