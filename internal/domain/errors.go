package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes. 4-digit codes are state machine violations; the rest mirror HTTP.
const (
	CodeInvalidStep          = 1101
	CodeAlreadyRegistered    = 1102
	CodeWrongCode            = 1103
	CodeTryLater             = 1104
	CodeUserIDTaken          = 1105
	CodeUsernameTaken        = 1106
	CodeInvalidUsername      = 1107
	CodeTooManyRetries       = 1108
	CodeInvalidReferral      = 1109
	CodeUsernameMismatch     = 1110
	CodeUserIDMismatch       = 1111
	CodeWrongSecureKey       = 1112
	CodeInvalidContact       = 1113
	CodeCaptchaFailed        = 1114
	CodeDeliveryFailed       = 1115
	CodeChainWriteFailed     = 1116
	CodeBadRequest           = 400
	CodeUnauthorized         = 401
	CodeForbidden            = 403
	CodeNotFound             = 404
	CodeConflict             = 409
	CodeRegistrationDisabled = 423
	CodeInternal             = 500
)

// Error is a coded domain error. Sentinels below are compared by code with errors.Is;
// the With* helpers return copies carrying resume context for the caller.
type Error struct {
	Code         int        `json:"code"`
	Message      string     `json:"message"`
	CurrentState State      `json:"currentState,omitempty"`
	NextRetry    *time.Time `json:"nextRetry,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Provider     string     `json:"provider,omitempty"`
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Reason)
	}
	return e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithState(s State) *Error {
	c := *e
	c.CurrentState = s
	return &c
}

func (e *Error) WithNextRetry(t time.Time) *Error {
	c := *e
	c.NextRetry = &t
	return &c
}

func (e *Error) WithReason(reason string) *Error {
	c := *e
	c.Reason = reason
	return &c
}

func (e *Error) WithProvider(provider string) *Error {
	c := *e
	c.Provider = provider
	return &c
}

// HTTPStatus maps the code to a transport status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeBadRequest, CodeWrongCode, CodeInvalidUsername, CodeInvalidReferral, CodeInvalidContact, CodeCaptchaFailed:
		return http.StatusBadRequest
	case CodeTryLater, CodeTooManyRetries:
		return http.StatusTooManyRequests
	case CodeWrongSecureKey, CodeForbidden:
		return http.StatusForbidden
	case CodeDeliveryFailed, CodeChainWriteFailed:
		return http.StatusBadGateway
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRegistrationDisabled:
		return http.StatusLocked
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// Sentinel errors for domain-level error discrimination.
var (
	ErrInvalidStep          = &Error{Code: CodeInvalidStep, Message: "invalid step taken"}
	ErrAlreadyRegistered    = &Error{Code: CodeAlreadyRegistered, Message: "account already registered"}
	ErrWrongCode            = &Error{Code: CodeWrongCode, Message: "wrong activation code"}
	ErrTryLater             = &Error{Code: CodeTryLater, Message: "try later"}
	ErrUserIDTaken          = &Error{Code: CodeUserIDTaken, Message: "this userId already exists"}
	ErrUsernameTaken        = &Error{Code: CodeUsernameTaken, Message: "this username is already taken"}
	ErrInvalidUsername      = &Error{Code: CodeInvalidUsername, Message: "invalid username"}
	ErrTooManyRetries       = &Error{Code: CodeTooManyRetries, Message: "too many retries"}
	ErrInvalidReferral      = &Error{Code: CodeInvalidReferral, Message: "invalid referral"}
	ErrUsernameMismatch     = &Error{Code: CodeUsernameMismatch, Message: "username does not match"}
	ErrUserIDMismatch       = &Error{Code: CodeUserIDMismatch, Message: "userId does not match"}
	ErrWrongSecureKey       = &Error{Code: CodeWrongSecureKey, Message: "wrong secure key"}
	ErrInvalidContact       = &Error{Code: CodeInvalidContact, Message: "invalid contact"}
	ErrCaptchaFailed        = &Error{Code: CodeCaptchaFailed, Message: "captcha check failed"}
	ErrDeliveryFailed       = &Error{Code: CodeDeliveryFailed, Message: "verification code delivery failed"}
	ErrChainWriteFailed     = &Error{Code: CodeChainWriteFailed, Message: "blockchain write failed"}
	ErrBadRequest           = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden            = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict             = &Error{Code: CodeConflict, Message: "conflict"}
	ErrRegistrationDisabled = &Error{Code: CodeRegistrationDisabled, Message: "registration disabled"}
	ErrInternal             = &Error{Code: CodeInternal, Message: "internal error"}
)

// AsError extracts the *Error from err, falling back to ErrInternal.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return ErrInternal
}
