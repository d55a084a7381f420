package domain

import (
	"errors"
	"strings"
)

type ErrorCode string

const (
	CodeValidation  ErrorCode = "validation_error"
	CodePermission  ErrorCode = "permission_error"
	CodeEligibility ErrorCode = "eligibility_error"
	CodeNotFound    ErrorCode = "not_found"
	CodeConflict    ErrorCode = "conflict"
	CodeTransient   ErrorCode = "transient_error"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrPermission  = errors.New("permission denied")
	ErrEligibility = errors.New("order not eligible")
	ErrNotFound    = errors.New("not found on server")
	ErrConflict    = errors.New("conflicting server change")
	ErrTransient   = errors.New("transient failure")
)

// OperationError carries a taxonomy code and unwraps to the matching sentinel,
// so callers can use errors.Is(err, domain.ErrConflict).
type OperationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details []string  `json:"details,omitempty"`
	cause   error
}

func NewOperationError(code ErrorCode, message string, details ...string) *OperationError {
	return &OperationError{Code: code, Message: message, Details: details}
}

func WrapTransient(err error) *OperationError {
	return &OperationError{Code: CodeTransient, Message: err.Error(), cause: err}
}

func (e *OperationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func (e *OperationError) Unwrap() []error {
	errs := []error{sentinelFor(e.Code)}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Retryable reports whether the reconciler should leave the item pending.
func (e *OperationError) Retryable() bool {
	return e.Code == CodeTransient
}

func sentinelFor(code ErrorCode) error {
	switch code {
	case CodeValidation:
		return ErrValidation
	case CodePermission:
		return ErrPermission
	case CodeEligibility:
		return ErrEligibility
	case CodeNotFound:
		return ErrNotFound
	case CodeConflict:
		return ErrConflict
	default:
		return ErrTransient
	}
}

// AsOperationError converts any error into the taxonomy; unknown errors are transient.
func AsOperationError(err error) *OperationError {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	return WrapTransient(err)
}
