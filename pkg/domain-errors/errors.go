// Package domainerrors defines coded errors shared by services and transports.
//
// Services return these so that the HTTP layer (or any other caller) can map a
// failure to a response without inspecting message text. Infrastructure facts
// (not found, unavailable) live in pkg/platform/sentinel and are translated
// into coded errors at the service boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error. Fields lists the offending input fields for
// validation failures.
type Error struct {
	Code    Code
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// Missing reports required fields that were absent. The field list is kept
// in caller order so messages stay stable.
func Missing(msg string, fields ...string) error {
	return &Error{Code: CodeValidation, Message: msg, Fields: fields}
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.Err
			continue
		}
		return false
	}
	return false
}

// Is reports whether err is a domain error with the given code. It is an
// alias kept for call sites that read better as a predicate.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MissingFields returns the field list of the first validation error in the
// chain.
func MissingFields(err error) []string {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return nil
		}
		if de.Code == CodeValidation && len(de.Fields) > 0 {
			return de.Fields
		}
		err = de.Err
	}
	return nil
}
