package model

import (
	"errors"
	"fmt"
)

// ErrorCode is the acquisition error taxonomy.
type ErrorCode string

const (
	ErrSearchFailed     ErrorCode = "SEARCH_FAILED"
	ErrPageFetchFailed  ErrorCode = "PAGE_FETCH_FAILED"
	ErrExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
)

// Error is a classified acquisition failure.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	StatusCode int       `json:"statusCode,omitempty"`
	Err        error     `json:"-"`
}

// NewError builds an Error.
func NewError(code ErrorCode, msg string, retryable bool) *Error {
	return &Error{Code: code, Message: msg, Retryable: retryable}
}

// WrapError builds an Error around an underlying cause.
func WrapError(code ErrorCode, err error, retryable bool) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Message: msg, Retryable: retryable, Err: err}
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries a retryable acquisition error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf returns the error code of err, or "" when unclassified.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
