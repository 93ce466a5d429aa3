package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// DomainError standardizes application errors surfaced through the API.
type DomainError struct {
	Code       string
	Message    string
	Field      string
	HTTPStatus int
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status}
}

// NewFieldRequired reports a missing mandatory input.
func NewFieldRequired(field, message string) error {
	return &DomainError{
		Code:       "FIELD_REQUIRED",
		Message:    message,
		Field:      field,
		HTTPStatus: http.StatusBadRequest,
	}
}

func NewValidationError(message string) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest)
}

// NewNoUpdatableFields reports a patch whose submitted fields all fell
// outside the caller's writable set.
func NewNoUpdatableFields() error {
	return NewDomainError("NO_FIELDS", "No updatable fields provided", http.StatusBadRequest)
}

func NewAuthRequired() error {
	return NewDomainError("AUTH_REQUIRED", "Authorization required", http.StatusUnauthorized)
}

func NewInvalidToken() error {
	return NewDomainError("INVALID_TOKEN", "Invalid or expired token", http.StatusUnauthorized)
}

func NewInvalidCredentials() error {
	return NewDomainError("INVALID_CREDENTIALS", "Invalid credentials", http.StatusUnauthorized)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden)
}

func NewNotFound(resource string) error {
	return NewDomainError("NOT_FOUND", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewOptimisticLockConflict reports a stale If-Match version.
func NewOptimisticLockConflict() error {
	return NewDomainError("OPTIMISTIC_LOCK", "Stale version", http.StatusConflict)
}

func NewRateLimited() error {
	return NewDomainError("RATE_LIMIT", "Too many requests", http.StatusTooManyRequests)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError. Row-miss errors from
// the store degrade to NOT_FOUND, everything else to a 500 whose cause is
// kept for logging but never exposed to the client.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource").(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
