// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// NewCampaignNotFound is a helper constructor.
func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrUserNotFound is returned by the credential store for unknown users.
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned when a user with the same email already exists.
var ErrDuplicateEmail = errors.New("user with this email already exists")

// AuthError is a rejection of the caller's credentials. It is always surfaced
// to the caller and never retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "unauthorized: " + e.Reason
}

var (
	ErrTokenExpired       = &AuthError{Reason: "token expired"}
	ErrTokenMalformed     = &AuthError{Reason: "token malformed"}
	ErrTokenRevoked       = &AuthError{Reason: "token revoked"}
	ErrInvalidSubject     = &AuthError{Reason: "invalid subject"}
	ErrWrongTokenKind     = &AuthError{Reason: "wrong token kind"}
	ErrInvalidCredentials = &AuthError{Reason: "invalid credentials"}
	ErrMissingToken       = &AuthError{Reason: "missing bearer token"}
)

// IsAuthError reports whether err is any AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ErrForbidden is returned when an authenticated principal lacks the role or
// ownership an operation requires.
var ErrForbidden = errors.New("forbidden")

// ErrRateLimitTimeout is returned when no provider token became available in
// time. The job goes back to pending and the attempt is not counted.
var ErrRateLimitTimeout = errors.New("rate limit: acquire timed out")

// ErrClaimLost is returned when a job outcome is recorded by a worker that no
// longer owns the claim (reclaimed after a timeout, or cancelled).
var ErrClaimLost = errors.New("job claim lost")

// ProviderError is a classified failure from the email provider.
type ProviderError struct {
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error (status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderTransient wraps err as a retryable provider failure.
func NewProviderTransient(status int, err error) error {
	return &ProviderError{StatusCode: status, Err: err}
}

// NewProviderPermanent wraps err as a terminal provider rejection.
func NewProviderPermanent(status int, err error) error {
	return &ProviderError{StatusCode: status, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent provider rejection.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}

// StorageError wraps a failed claim/commit against the relational store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the relational store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ErrInvalidTransition is returned when a campaign status change is not allowed.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign cannot move from %s to %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &ErrInvalidTransition{From: from, To: to}
}

// ValidationError carries per-field request validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
