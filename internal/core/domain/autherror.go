package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the closed set of tagged auth failure codes. Every failure
// crossing the public boundary carries exactly one of these.
type ErrorCode string

const (
	// CodeInvalidCredentials marks a provider rejection of the supplied
	// identifier/password pair.
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	// CodeUserDisabled marks an administratively disabled account.
	CodeUserDisabled ErrorCode = "user_disabled"
	// CodeEmailInUse marks a signup collision on the email address.
	CodeEmailInUse ErrorCode = "email_in_use"
	// CodeWeakPassword marks a password rejected by the strength policy.
	CodeWeakPassword ErrorCode = "weak_password"
	// CodeRateLimited marks a provider-side throttling rejection.
	CodeRateLimited ErrorCode = "rate_limited"

	// CodeNetworkTimeout marks a timed-out provider round-trip.
	CodeNetworkTimeout ErrorCode = "network_timeout"
	// CodeNetworkUnavailable marks connectivity loss to the provider.
	CodeNetworkUnavailable ErrorCode = "network_unavailable"
	// CodeProviderUnavailable marks a provider-side 5xx class failure.
	CodeProviderUnavailable ErrorCode = "provider_unavailable"

	// CodeSessionLimitExceeded marks the concurrent-session ceiling.
	CodeSessionLimitExceeded ErrorCode = "session_limit_exceeded"
	// CodeSessionInvalid marks a missing or malformed session record.
	CodeSessionInvalid ErrorCode = "session_invalid"
	// CodeSessionExpired marks a session past the dual-timeout rule.
	CodeSessionExpired ErrorCode = "session_expired"

	// CodeStorageUnavailable marks a degraded persistence backend.
	CodeStorageUnavailable ErrorCode = "storage_unavailable"
	// CodeInternal marks failures with no more specific classification.
	CodeInternal ErrorCode = "internal"
)

// Retryable reports whether retrying the same operation may succeed without
// user intervention. Network and storage failures qualify; provider and
// session rejections do not.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeNetworkTimeout, CodeNetworkUnavailable, CodeProviderUnavailable, CodeStorageUnavailable:
		return true
	default:
		return false
	}
}

// Recoverable reports whether the failure leaves the status machine in its
// prior state. Non-recoverable codes force unauthenticated/expired plus a
// forced-logout cleanup.
func (c ErrorCode) Recoverable() bool {
	switch c {
	case CodeSessionLimitExceeded, CodeSessionInvalid, CodeSessionExpired:
		return false
	default:
		return true
	}
}

// AuthError is the tagged error value crossing every public boundary.
// Operations return it inside their result; nothing in this subsystem panics
// across the API surface.
type AuthError struct {
	Code        ErrorCode
	Message     string
	Email       string
	Timestamp   time.Time
	Recoverable bool
	Attempts    int
	cause       error
}

// NewAuthError builds a tagged error with the code's default recoverability.
func NewAuthError(code ErrorCode, message string) *AuthError {
	return &AuthError{
		Code:        code,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Recoverable: code.Recoverable(),
	}
}

// WithEmail attaches the subject email address.
func (e *AuthError) WithEmail(email string) *AuthError {
	e.Email = email
	return e
}

// WithAttempts records how many attempts preceded the failure.
func (e *AuthError) WithAttempts(attempts int) *AuthError {
	e.Attempts = attempts
	return e
}

// WithCause attaches the underlying error for errors.Is/As chains.
func (e *AuthError) WithCause(cause error) *AuthError {
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches two AuthErrors by code, so errors.Is works against sentinel
// instances built with NewAuthError(code, "").
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && e.Code == other.Code
}

// AsAuthError extracts the tagged error from a chain, wrapping unknown errors
// under CodeInternal so the public surface always yields a tagged value.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var tagged *AuthError
	if errors.As(err, &tagged) {
		return tagged
	}
	return NewAuthError(CodeInternal, err.Error()).WithCause(err)
}
