// Package errors defines custom error types and error handling utilities for the credential core.
// Every failure carries a precise Kind for internal callers, while the external
// response built by ToErrorResponse never reveals which authentication check failed.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/credcore/pkg/constants"
)

// Kind is the precise, internal classification of a failure.
type Kind string

const (
	KindKeyAlreadyActive    Kind = "key_already_active"
	KindNoActiveKey         Kind = "no_active_key"
	KindUnknownKid          Kind = "unknown_kid"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindTokenExpired        Kind = "token_expired"
	KindDecryptionFailure   Kind = "decryption_failure"
	KindRefreshTokenReused  Kind = "refresh_token_reused"
	KindRefreshTokenExpired Kind = "refresh_token_expired"
	KindSessionNotFound     Kind = "session_not_found"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindConstraintViolation Kind = "constraint_violation"
	KindInvalidArgument     Kind = "invalid_argument"
	KindRateLimited         Kind = "rate_limited"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// CBCError represents a structured error with additional metadata
type CBCError interface {
	error

	// Kind returns the precise internal error kind
	Kind() Kind

	// Code returns the external error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) CBCError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) CBCError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	kind        Kind
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *baseError) Kind() Kind                { return e.kind }
func (e *baseError) Code() constants.ErrorCode { return e.code }
func (e *baseError) HTTPStatus() int           { return e.httpStatus }
func (e *baseError) Description() string       { return e.description }
func (e *baseError) Unwrap() error             { return e.cause }

// Is reports whether target is a CBCError of the same kind, so that
// errors.Is(err, errors.ErrNoActiveKey("")) style checks work.
func (e *baseError) Is(target error) bool {
	t, ok := target.(CBCError)
	if !ok {
		return false
	}
	return t.Kind() == e.kind
}

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) CBCError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) CBCError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all metadata
func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// ================================================================================
// Error Constructor
// ================================================================================

// NewError creates a new CBCError with the specified parameters
func NewError(kind Kind, code constants.ErrorCode, httpStatus int, description string, message string) CBCError {
	return &baseError{
		kind:        kind,
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Key Lifecycle Errors
// ================================================================================

// ErrKeyAlreadyActive is returned by provisioning when the owner already has an active key
func ErrKeyAlreadyActive(owner string) CBCError {
	return NewError(KindKeyAlreadyActive, constants.ErrCodeConflict, http.StatusConflict,
		"The owner already has an active signing key; rotate it instead.",
		fmt.Sprintf("owner %s already has an active key", owner),
	).WithMetadata("owner", owner)
}

// ErrNoActiveKey is returned when an owner has no key to sign with
func ErrNoActiveKey(owner string) CBCError {
	return NewError(KindNoActiveKey, constants.ErrCodeNotFound, http.StatusNotFound,
		"The owner has no active signing key.",
		fmt.Sprintf("owner %s has no active key", owner),
	).WithMetadata("owner", owner)
}

// ErrDecryptionFailure is returned when a sealed private key cannot be opened
func ErrDecryptionFailure(reason string) CBCError {
	return NewError(KindDecryptionFailure, constants.ErrCodeServerError, http.StatusInternalServerError,
		"The server encountered an unexpected condition.",
		fmt.Sprintf("private key envelope could not be opened: %s", reason),
	)
}

// ================================================================================
// Token Errors
// ================================================================================

// ErrUnknownKid is returned when a token's kid does not resolve for the owner
func ErrUnknownKid(owner, kid string) CBCError {
	return NewError(KindUnknownKid, constants.ErrCodeInvalidToken, http.StatusUnauthorized,
		"The access token is invalid.",
		fmt.Sprintf("kid %q is not resolvable for owner %s", kid, owner),
	).WithMetadata("owner", owner).
		WithMetadata("kid", kid)
}

// ErrSignatureInvalid is returned when a token fails signature or claim checks
func ErrSignatureInvalid(reason string) CBCError {
	return NewError(KindSignatureInvalid, constants.ErrCodeInvalidToken, http.StatusUnauthorized,
		"The access token is invalid.",
		fmt.Sprintf("token verification failed: %s", reason),
	).WithMetadata("reason", reason)
}

// ErrTokenExpired is returned when a token is past its exp claim
func ErrTokenExpired() CBCError {
	return NewError(KindTokenExpired, constants.ErrCodeInvalidToken, http.StatusUnauthorized,
		"The access token is invalid.",
		"access token has expired",
	)
}

// ================================================================================
// Session Errors
// ================================================================================

// ErrRefreshTokenReused is returned when a refresh token was already rotated away or never existed
func ErrRefreshTokenReused() CBCError {
	return NewError(KindRefreshTokenReused, constants.ErrCodeInvalidToken, http.StatusUnauthorized,
		"The refresh token is invalid.",
		"refresh token has already been used or is unknown",
	)
}

// ErrRefreshTokenExpired is returned when a refresh token is past its expires_at
func ErrRefreshTokenExpired() CBCError {
	return NewError(KindRefreshTokenExpired, constants.ErrCodeInvalidToken, http.StatusUnauthorized,
		"The refresh token is invalid.",
		"refresh token has expired",
	)
}

// ErrSessionNotFound is returned when an explicit revocation names an unknown session
func ErrSessionNotFound(ref string) CBCError {
	return NewError(KindSessionNotFound, constants.ErrCodeNotFound, http.StatusNotFound,
		"Session not found.",
		fmt.Sprintf("session not found: %s", ref),
	).WithMetadata("session", ref)
}

// ================================================================================
// Infrastructure Errors
// ================================================================================

// ErrStoreUnavailable wraps a store failure that is not a constraint violation
func ErrStoreUnavailable(op string, cause error) CBCError {
	return NewError(KindStoreUnavailable, constants.ErrCodeServiceUnavailable, http.StatusServiceUnavailable,
		"The server is currently unable to handle the request.",
		fmt.Sprintf("store operation %s failed", op),
	).WithMetadata("operation", op).
		WithCause(cause)
}

// ErrConstraintViolation wraps a unique or foreign key violation
func ErrConstraintViolation(op string, cause error) CBCError {
	return NewError(KindConstraintViolation, constants.ErrCodeConflict, http.StatusConflict,
		"The request conflicts with the current state of the resource.",
		fmt.Sprintf("store operation %s violated a constraint", op),
	).WithMetadata("operation", op).
		WithCause(cause)
}

// ErrInvalidArgument reports a malformed caller input
func ErrInvalidArgument(param, reason string) CBCError {
	return NewError(KindInvalidArgument, constants.ErrCodeInvalidRequest, http.StatusBadRequest,
		"The request is missing a required parameter or includes an invalid parameter value.",
		fmt.Sprintf("invalid %s: %s", param, reason),
	).WithMetadata("parameter", param)
}

// ErrRateLimited is returned when a caller exhausted its request budget
func ErrRateLimited(retryAfter time.Duration) CBCError {
	return NewError(KindRateLimited, constants.ErrCodeRateLimited, http.StatusTooManyRequests,
		"Too many requests; retry later.",
		fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter),
	).WithMetadata("retry_after", retryAfter)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsCBCError finds the first CBCError in err's chain
func AsCBCError(err error) (CBCError, bool) {
	var cbcErr CBCError
	if stderrors.As(err, &cbcErr) {
		return cbcErr, true
	}
	return nil, false
}

// KindOf returns the kind of the first CBCError in err's chain, or "" if none
func KindOf(err error) Kind {
	if cbcErr, ok := AsCBCError(err); ok {
		return cbcErr.Kind()
	}
	return ""
}

// IsKind reports whether err's chain contains a CBCError of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsAuthFailure reports whether the error belongs to the authentication family
// whose details must not be revealed externally.
func IsAuthFailure(err error) bool {
	switch KindOf(err) {
	case KindUnknownKid, KindSignatureInvalid, KindTokenExpired,
		KindRefreshTokenReused, KindRefreshTokenExpired:
		return true
	}
	return false
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ToErrorResponse converts any error to its external status and body.
// Authentication failures collapse into a single invalid_token response.
func ToErrorResponse(err error) (int, *ErrorResponse) {
	if IsAuthFailure(err) {
		return http.StatusUnauthorized, &ErrorResponse{
			Error:            string(constants.ErrCodeInvalidToken),
			ErrorDescription: "The provided credential is invalid.",
		}
	}
	if cbcErr, ok := AsCBCError(err); ok {
		if cbcErr.Kind() == KindDecryptionFailure {
			return http.StatusInternalServerError, &ErrorResponse{
				Error:            string(constants.ErrCodeServerError),
				ErrorDescription: "An unexpected error occurred",
			}
		}
		return cbcErr.HTTPStatus(), &ErrorResponse{
			Error:            string(cbcErr.Code()),
			ErrorDescription: cbcErr.Description(),
		}
	}
	return http.StatusInternalServerError, &ErrorResponse{
		Error:            string(constants.ErrCodeServerError),
		ErrorDescription: "An unexpected error occurred",
	}
}
