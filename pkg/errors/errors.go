// Package errors provides error handling utilities for Strata services.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeInvalidArgument represents malformed inputs (bad amount, tier, difficulty)
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypeNotFound represents lookups of unknown sessions, proposals, tiers, or accounts
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeUnauthorized represents capability violations
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	// ErrorTypePrecondition represents state-incompatible calls
	ErrorTypePrecondition ErrorType = "precondition"
	// ErrorTypeOverflow represents arithmetic that would overflow token-unit bounds
	ErrorTypeOverflow ErrorType = "overflow"
	// ErrorTypeDatabase represents database-related errors
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeMessaging represents broker/messaging errors
	ErrorTypeMessaging ErrorType = "messaging"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// Reason pins down which precondition or argument check an invocation failed.
// Callers branch on these deterministically.
type Reason string

const (
	ReasonInvalidAmount           Reason = "invalid_amount"
	ReasonInvalidTier             Reason = "invalid_tier"
	ReasonInvalidDifficulty       Reason = "invalid_difficulty"
	ReasonInsufficientStake       Reason = "insufficient_stake"
	ReasonSessionNotMatured       Reason = "session_not_matured"
	ReasonSessionNotActive        Reason = "session_not_active"
	ReasonAlreadyClaimed          Reason = "already_claimed"
	ReasonInsufficientVotingPower Reason = "insufficient_voting_power"
	ReasonAlreadyVoted            Reason = "already_voted"
	ReasonVotingClosed            Reason = "voting_closed"
	ReasonVotingNotEnded          Reason = "voting_not_ended"
	ReasonAlreadyFinalized        Reason = "already_finalized"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Reason    Reason
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// WithReason tags the error with a deterministic failure reason
func (e *ServiceError) WithReason(reason Reason) *ServiceError {
	e.Reason = reason
	return e
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	se := &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}

	// Preserve the innermost reason so callers can still branch on it
	var inner *ServiceError
	if errors.As(err, &inner) {
		se.Reason = inner.Reason
	}

	return se
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type == errorType
	}
	return false
}

// ReasonOf extracts the failure reason from an error, or "" if untagged
func ReasonOf(err error) Reason {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// IsReason checks whether an error carries a specific failure reason
func IsReason(err error, reason Reason) bool {
	return ReasonOf(err) == reason
}

// IsRetryable reports whether an operation that produced this error is worth
// retrying. Engine invocations are never retried (the ordering authority owns
// retry policy); only transient I/O failures qualify.
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		switch se.Type {
		case ErrorTypeDatabase, ErrorTypeMessaging, ErrorTypeTimeout:
			return true
		default:
			return false
		}
	}
	return false
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
