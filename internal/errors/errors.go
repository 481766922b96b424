// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/multierr"
)

type ErrorType string

const (
	ErrorTypeVersionTooOld      ErrorType = "VERSION_TOO_OLD"
	ErrorTypeVersionTooHigh     ErrorType = "VERSION_TOO_HIGH"
	ErrorTypeVersionUnchanged   ErrorType = "VERSION_UNCHANGED"
	ErrorTypePathUnresolved     ErrorType = "PATH_UNRESOLVED"
	ErrorTypeNonUniqueChangeset ErrorType = "NON_UNIQUE_CHANGESET"
	ErrorTypeDigestMismatch     ErrorType = "DIGEST_MISMATCH"
	ErrorTypeMalformedPatch     ErrorType = "MALFORMED_PATCH"
	ErrorTypeAccessDenied       ErrorType = "ACCESS_DENIED"
)

// severity orders error types when several records fail in one apply.
// Higher wins.
var severity = map[ErrorType]int{
	ErrorTypeAccessDenied:       1,
	ErrorTypePathUnresolved:     2,
	ErrorTypeDigestMismatch:     3,
	ErrorTypeNonUniqueChangeset: 4,
	ErrorTypeVersionUnchanged:   5,
	ErrorTypeVersionTooHigh:     6,
	ErrorTypeVersionTooOld:      7,
	ErrorTypeMalformedPatch:     8,
}

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Type)
	}
	return e.Message
}

// Is matches any *Error of the same type, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

var (
	ErrVersionTooOld      = &Error{Type: ErrorTypeVersionTooOld}
	ErrVersionTooHigh     = &Error{Type: ErrorTypeVersionTooHigh}
	ErrVersionUnchanged   = &Error{Type: ErrorTypeVersionUnchanged}
	ErrPathUnresolved     = &Error{Type: ErrorTypePathUnresolved}
	ErrNonUniqueChangeset = &Error{Type: ErrorTypeNonUniqueChangeset}
	ErrDigestMismatch     = &Error{Type: ErrorTypeDigestMismatch}
	ErrMalformedPatch     = &Error{Type: ErrorTypeMalformedPatch}
	ErrAccessDenied       = &Error{Type: ErrorTypeAccessDenied}
)

func New(t ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
	}
}

func VersionTooOld(format string, args ...any) *Error {
	return New(ErrorTypeVersionTooOld, format, args...)
}

func VersionTooHigh(format string, args ...any) *Error {
	return New(ErrorTypeVersionTooHigh, format, args...)
}

func VersionUnchanged(format string, args ...any) *Error {
	return New(ErrorTypeVersionUnchanged, format, args...)
}

func PathUnresolved(path string) *Error {
	return &Error{
		Type:    ErrorTypePathUnresolved,
		Message: fmt.Sprintf("path %s did not resolve", path),
		Details: path,
	}
}

func NonUniqueChangeset(phase string, roots int) *Error {
	return &Error{
		Type:    ErrorTypeNonUniqueChangeset,
		Message: fmt.Sprintf("%s phase has %d change roots, expected 1", phase, roots),
	}
}

func DigestMismatch(expected, actual string) *Error {
	return &Error{
		Type:    ErrorTypeDigestMismatch,
		Message: fmt.Sprintf("digest mismatch: expected %s, calculated %s", expected, actual),
		Details: map[string]string{"expected": expected, "actual": actual},
	}
}

func MalformedPatch(format string, args ...any) *Error {
	return New(ErrorTypeMalformedPatch, format, args...)
}

func AccessDenied(path, attr string) *Error {
	msg := fmt.Sprintf("write access to %s denied", path)
	if attr != "" {
		msg = fmt.Sprintf("write access to %s@%s denied", path, attr)
	}
	return &Error{Type: ErrorTypeAccessDenied, Message: msg, Details: path}
}

// TypeOf returns the type of the first *Error found in err's chain.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// Worst returns the most severe typed error accumulated in err, or nil when
// none of the collected errors is typed.
func Worst(err error) *Error {
	var worst *Error
	for _, each := range multierr.Errors(err) {
		var e *Error
		if !stderrors.As(each, &e) {
			continue
		}
		if worst == nil || severity[e.Type] > severity[worst.Type] {
			worst = e
		}
	}
	return worst
}
