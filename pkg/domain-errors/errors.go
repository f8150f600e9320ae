// Package domainerrors carries coded errors from services to transports.
//
// Services return these errors; handlers translate the code into an HTTP
// status through pkg/platform/httputil. Stores never return them directly,
// they return pkg/platform/sentinel errors which services wrap.
package domainerrors

import (
	"errors"
	"strings"
)

// Code classifies a domain error.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_failed"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"

	// Election taxonomy.
	CodeAccessDenied   Code = "access_denied"
	CodeAlreadyVoted   Code = "already_voted"
	CodeAlreadyDecided Code = "already_decided"
	CodeTokenMismatch  Code = "token_mismatch"
	CodeUnavailable    Code = "unavailable"
	CodePartialCommit  Code = "partial_commit"
	CodeRateLimited    Code = "rate_limit_exceeded"
)

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a coded domain error with an optional cause and field details.
type Error struct {
	Code    Code
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
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

// NewValidation builds a validation error listing each offending field.
func NewValidation(fields ...FieldError) error {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	msg := "invalid input"
	if len(names) > 0 {
		msg = "invalid fields: " + strings.Join(names, ", ")
	}
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

// Is is shorthand for HasCode.
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

// MessageOf returns the outermost domain message, or an empty string.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// FieldsOf returns field details from the first validation error in the chain.
func FieldsOf(err error) []FieldError {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
