package locksvc

import (
	"errors"
	"fmt"
)

// Code categorizes errors returned by the locking service.
type Code string

const (
	// CodeConflict indicates the lock is already held.
	CodeConflict Code = "CONFLICT"

	// CodeNotHeld indicates an unlock of something the caller does not hold.
	CodeNotHeld Code = "NOT_HELD"

	// CodeInvalidArgument indicates a malformed request (empty module name, unknown datastore).
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeClosed indicates use of a closed session or connection.
	CodeClosed Code = "CLOSED"

	// CodeInternal covers backend failures (I/O, driver, transport).
	CodeInternal Code = "INTERNAL"
)

// Error is the error type returned by every Service implementation.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a backend failure.
func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// CodeOf extracts the Code from err. Errors that are not *Error map to CodeInternal.
// A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

// IsConflict reports whether err is a CONFLICT error.
func IsConflict(err error) bool {
	return err != nil && CodeOf(err) == CodeConflict
}

// IsNotHeld reports whether err is a NOT_HELD error.
func IsNotHeld(err error) bool {
	return err != nil && CodeOf(err) == CodeNotHeld
}

// ParseCode maps a wire string back to a Code.
func ParseCode(s string) (Code, error) {
	switch c := Code(s); c {
	case CodeConflict, CodeNotHeld, CodeInvalidArgument, CodeClosed, CodeInternal:
		return c, nil
	}
	return "", fmt.Errorf("unknown error code %q", s)
}
