package appErrors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error class across the API and webhook surfaces.
type ErrorCode string

// AppError is the application error carried from services up to handlers.
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Details  interface{} `json:"details,omitempty"`
	Err      error       `json:"-"`
	HTTPCode int         `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match any AppError against its predeclared value by code,
// so wrapped copies created via WithDetails still compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code ErrorCode, message string, httpCode int) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		HTTPCode: httpCode,
	}
}

func Wrap(err error, code ErrorCode, message string, httpCode int) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Err:      err,
		HTTPCode: httpCode,
	}
}

// WithDetails returns a copy carrying field-level detail; the predeclared
// error values must stay immutable since they are shared.
func (e *AppError) WithDetails(details interface{}) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	type alias struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}
	return json.Marshal(&alias{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Predeclared errors.
var (
	// Authentication
	ErrInvalidCredentials     = New(CodeInvalidCredentials, "Invalid email or password", http.StatusUnauthorized)
	ErrAuthenticationRequired = New(CodeAuthenticationRequired, "Authentication required", http.StatusUnauthorized)
	ErrForbidden              = New(CodeForbidden, "Access denied", http.StatusForbidden)
	ErrInvalidToken           = New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)

	// Validation
	ErrValidationFailed = New(CodeValidationFailed, "Validation failed", http.StatusBadRequest)

	// Webhooks. Signature failures deliberately carry no detail: the response
	// must not act as an oracle for forgery attempts.
	ErrSignatureInvalid = New(CodeSignatureInvalid, "Invalid signature", http.StatusBadRequest)
	ErrParseError       = New(CodeParseError, "Malformed event payload", http.StatusBadRequest)

	// Ledger / state machine
	ErrConflict             = New(CodeConflict, "Conflicting terminal state for transaction", http.StatusConflict)
	ErrInvalidTransition    = New(CodeInvalidTransition, "Transition not permitted from current state", http.StatusConflict)
	ErrTransactionNotFound  = New(CodeNotFound, "Transaction not found", http.StatusNotFound)
	ErrSubscriptionNotFound = New(CodeNotFound, "Subscription not found", http.StatusNotFound)
	ErrUserNotFound         = New(CodeNotFound, "User not found", http.StatusNotFound)
	ErrGatewayNotFound      = New(CodeNotFound, "Unknown payment gateway", http.StatusNotFound)

	// Gateway
	ErrGatewayDeclined       = New(CodeGatewayDeclined, "Charge declined by gateway", http.StatusPaymentRequired)
	ErrGatewayNetwork        = New(CodeGatewayNetwork, "Gateway unreachable", http.StatusBadGateway)
	ErrGatewayInvalidRequest = New(CodeGatewayInvalidRequest, "Gateway rejected the request", http.StatusBadRequest)

	// Enrollment
	ErrEnrollmentTransient = New(CodeEnrollmentTransient, "LMS temporarily unavailable", http.StatusBadGateway)
	ErrEnrollmentPermanent = New(CodeEnrollmentPermanent, "LMS rejected the enrollment", http.StatusUnprocessableEntity)

	// API guard
	ErrRateLimitExceeded = New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
)

// Helpers for errors with details.
func ValidationError(details interface{}) *AppError {
	return ErrValidationFailed.WithDetails(details)
}

func InternalError(err error) *AppError {
	return Wrap(err, CodeInternalError, "Internal server error", http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return Wrap(err, CodeDatabaseError, "Database operation failed", http.StatusInternalServerError)
}
