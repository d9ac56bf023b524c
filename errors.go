package authpwn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrUniquenessViolation is returned when a write loses to an existing
	// record with the same unique value
	ErrUniquenessViolation = errors.New("already taken")

	// ErrInvalidToken matches every *TokenError. Callers that do not want to
	// reveal why a link failed can test for this alone.
	ErrInvalidToken = errors.New("this link is no longer valid")

	// ErrTokenFactMismatch is returned by password reset when the e-mail the
	// token vouches for no longer belongs to the token's user
	ErrTokenFactMismatch = errors.New("token no longer matches account")
)

// Token redemption failures
var (
	ErrTokenNotFound     = &TokenError{Reason: "not found"}
	ErrTokenExpired      = &TokenError{Reason: "expired"}
	ErrTokenAlreadySpent = &TokenError{Reason: "already spent"}
)

// TokenError explains why a token could not be redeemed
type TokenError struct {
	Reason string
}

func (e *TokenError) Error() string {
	return "token " + e.Reason
}

// Is makes every TokenError match ErrInvalidToken
func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

// ValidationError reports a credential field that breaks its kind's rules
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ExternalServiceError wraps a failed identity-provider call
type ExternalServiceError struct {
	Provider string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s identity provider: %v", e.Provider, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}
