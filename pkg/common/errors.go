package common

import (
	"errors"
	"net/http"
)

// Common error types
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrInternalServer     = errors.New("internal server error")
	ErrConflict           = errors.New("resource conflict")
	ErrValidation         = errors.New("validation error")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Machine-readable error codes carried in the response envelope.
const (
	CodeAuthRequired           = "AUTH_REQUIRED"
	CodeForbidden              = "FORBIDDEN"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeNotFound               = "NOT_FOUND"
	CodeConflict               = "CONFLICT"
	CodeOfferExpired           = "OFFER_EXPIRED"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeRateLimited            = "RATE_LIMITED"
	CodeLocked                 = "LOCKED"
	CodeRoutingUnavailable     = "ROUTING_UNAVAILABLE"
	CodePaymentProviderError   = "PAYMENT_PROVIDER_ERROR"
	CodeInternal               = "INTERNAL"
)

// AppError represents an application error with HTTP status code and a
// stable machine-readable error code.
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, errorCode, message string, err error) *AppError {
	return &AppError{
		Code:      code,
		ErrorCode: errorCode,
		Message:   message,
		Err:       err,
	}
}

// Common error constructors
func NewNotFoundError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusNotFound,
		ErrorCode: CodeNotFound,
		Message:   message,
		Err:       err,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:      http.StatusUnauthorized,
		ErrorCode: CodeAuthRequired,
		Message:   message,
		Err:       ErrUnauthorized,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:      http.StatusForbidden,
		ErrorCode: CodeForbidden,
		Message:   message,
		Err:       ErrForbidden,
	}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: CodeValidationFailed,
		Message:   message,
		Err:       err,
	}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: CodeInternal,
		Message:   message,
		Err:       err,
	}
}

func NewInternalServerError(message string) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: CodeInternal,
		Message:   message,
		Err:       ErrInternalServer,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: CodeConflict,
		Message:   message,
		Err:       ErrConflict,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: CodeValidationFailed,
		Message:   message,
		Err:       ErrValidation,
	}
}

// Domain-specific constructors

// NewOfferExpiredError is returned when a driver answers an offer after its
// deadline or after the dispatcher already moved on.
func NewOfferExpiredError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: CodeOfferExpired,
		Message:   message,
		Err:       ErrConflict,
	}
}

// NewInvalidStateTransitionError is returned when a trip-status CAS fails.
func NewInvalidStateTransitionError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: CodeInvalidStateTransition,
		Message:   message,
		Err:       ErrConflict,
	}
}

// NewInsufficientBalanceError is returned when a wallet cannot cover a fare.
func NewInsufficientBalanceError(message string) *AppError {
	return &AppError{
		Code:      http.StatusPaymentRequired,
		ErrorCode: CodeInsufficientBalance,
		Message:   message,
		Err:       ErrConflict,
	}
}

// NewRateLimitedError is returned when a per-phone or per-client window is
// exhausted.
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:      http.StatusTooManyRequests,
		ErrorCode: CodeRateLimited,
		Message:   message,
		Err:       ErrConflict,
	}
}

// NewLockedError is returned while a phone is locked out of OTP verification.
func NewLockedError(message string) *AppError {
	return &AppError{
		Code:      http.StatusLocked,
		ErrorCode: CodeLocked,
		Message:   message,
		Err:       ErrForbidden,
	}
}

// NewRoutingUnavailableError is returned when the routing provider is down or
// its circuit is open. Callers decide whether a straight-line proxy is
// acceptable.
func NewRoutingUnavailableError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusServiceUnavailable,
		ErrorCode: CodeRoutingUnavailable,
		Message:   message,
		Err:       err,
	}
}

// NewPaymentProviderError wraps Stripe-side failures.
func NewPaymentProviderError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusBadGateway,
		ErrorCode: CodePaymentProviderError,
		Message:   message,
		Err:       err,
	}
}
