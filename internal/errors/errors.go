// Package errors provides coded application errors shared by the service,
// repository and transport layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// Error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeUnprocessable = "UNPROCESSABLE"
	ErrCodeInternal      = "INTERNAL"
)

// Error is an application error carrying a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Err     error  `json:"-"`
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

// New creates an error with the given code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// InvalidInput reports a bad request field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// Conflict reports a state conflict, such as a stale version.
func Conflict(message string) *Error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// Code returns the code of err, or ErrCodeInternal for uncoded errors.
func Code(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name errors keep them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

var domainCodes = []struct {
	target error
	code   string
}{
	{workflow.ErrUnknownCategory, ErrCodeNotFound},
	{workflow.ErrStepNotFound, ErrCodeNotFound},
	{workflow.ErrLineNotFound, ErrCodeNotFound},
	{workflow.ErrWrongRole, ErrCodeForbidden},
	{workflow.ErrNotYourTurn, ErrCodeConflict},
	{workflow.ErrAlreadyDecided, ErrCodeConflict},
	{workflow.ErrRequestClosed, ErrCodeConflict},
	{workflow.ErrOrderCancelled, ErrCodeConflict},
	{workflow.ErrPickRecorded, ErrCodeConflict},
	{workflow.ErrOrderLocked, ErrCodeConflict},
	{workflow.ErrOverPick, ErrCodeUnprocessable},
	{workflow.ErrNegativePick, ErrCodeUnprocessable},
	{workflow.ErrInvalidDecision, ErrCodeInvalidInput},
	{workflow.ErrInvalidLine, ErrCodeInvalidInput},
	{workflow.ErrInvalidAmount, ErrCodeInvalidInput},
	{workflow.ErrInvalidTrail, ErrCodeInternal},
}

// FromDomain wraps an engine error with its application code. The engine
// sentinel stays reachable through errors.Is. Already coded errors and nil
// pass through.
func FromDomain(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	for _, d := range domainCodes {
		if stderrors.Is(err, d.target) {
			return Wrap(err, d.code, d.target.Error())
		}
	}
	return Wrap(err, ErrCodeInvalidInput, err.Error())
}

// HTTPStatus maps an error code to a response status.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
