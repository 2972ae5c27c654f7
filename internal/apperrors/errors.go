// Package apperrors defines the closed error taxonomy crossing the gateway
// boundary. Every error returned to a transport is one of these kinds, with a
// human message and a retryable flag; raw internal errors never escape.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes an application error.
type Kind string

const (
	// KindInvalidCredentials indicates a failed username/password check.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindTokenExpired indicates the bearer token expired; the client should attempt a silent refresh.
	KindTokenExpired Kind = "token_expired"
	// KindTokenInvalid indicates a malformed or badly signed token.
	KindTokenInvalid Kind = "token_invalid"
	// KindTokenRevoked indicates a revoked or version-bumped token; the client must re-authenticate.
	KindTokenRevoked Kind = "token_revoked"
	// KindNotOwner indicates a write on a session owned by another identity.
	KindNotOwner Kind = "not_owner"
	// KindInsufficientPermission indicates the identity lacks the permission for the operation.
	KindInsufficientPermission Kind = "insufficient_permission"
	// KindIdentityNotFound indicates no identity record exists for the given id.
	KindIdentityNotFound Kind = "identity_not_found"
	// KindSessionNotFound indicates no session exists for the given id.
	KindSessionNotFound Kind = "session_not_found"
	// KindUsernameTaken indicates the username is already bound to another identity.
	KindUsernameTaken Kind = "username_taken"
	// KindTooManyAttempts indicates a rate-limit breach; RetryAfter is set.
	KindTooManyAttempts Kind = "too_many_attempts"
	// KindWriteFailed indicates a storage-layer write failure.
	KindWriteFailed Kind = "write_failed"
	// KindLockTimeout indicates a record lock could not be acquired within its bounded wait.
	KindLockTimeout Kind = "lock_timeout"
	// KindBlocked indicates the connection is on the block-list.
	KindBlocked Kind = "blocked"
	// KindUnauthenticated indicates the request carries no authenticated identity.
	KindUnauthenticated Kind = "unauthenticated"
)

// Error is a structured application error. It supports errors.Is/As via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for rate-limit errors; zero otherwise.
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the caller may retry the operation with its own
// backoff. Storage and rate-limit errors are retryable; authentication and
// authorization failures are terminal for the current request.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindWriteFailed, KindLockTimeout, KindTooManyAttempts:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error; "" otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// InvalidCredentials returns an invalid-credentials error.
func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: UserMessage(KindInvalidCredentials)}
}

// TokenExpired returns a token-expired error.
func TokenExpired() *Error {
	return &Error{Kind: KindTokenExpired, Message: UserMessage(KindTokenExpired)}
}

// TokenInvalid returns a token-invalid error wrapping cause.
func TokenInvalid(cause error) *Error {
	return &Error{Kind: KindTokenInvalid, Message: UserMessage(KindTokenInvalid), Cause: cause}
}

// TokenRevoked returns a token-revoked error.
func TokenRevoked() *Error {
	return &Error{Kind: KindTokenRevoked, Message: UserMessage(KindTokenRevoked)}
}

// NotOwner returns a not-owner authorization error.
func NotOwner() *Error {
	return &Error{Kind: KindNotOwner, Message: UserMessage(KindNotOwner)}
}

// InsufficientPermission returns an insufficient-permission error.
func InsufficientPermission() *Error {
	return &Error{Kind: KindInsufficientPermission, Message: UserMessage(KindInsufficientPermission)}
}

// IdentityNotFound returns an identity-not-found error.
func IdentityNotFound(adminID string) *Error {
	return &Error{Kind: KindIdentityNotFound, Message: fmt.Sprintf("identity %s not found", adminID)}
}

// SessionNotFound returns a session-not-found error.
func SessionNotFound(sessionID string) *Error {
	return &Error{Kind: KindSessionNotFound, Message: fmt.Sprintf("session %s not found", sessionID)}
}

// UsernameTaken returns a username-conflict error.
func UsernameTaken(username string) *Error {
	return &Error{Kind: KindUsernameTaken, Message: fmt.Sprintf("username %q is already registered", username)}
}

// TooManyAttempts returns a rate-limit error with the given retry-after hint.
func TooManyAttempts(retryAfter time.Duration) *Error {
	return &Error{Kind: KindTooManyAttempts, Message: UserMessage(KindTooManyAttempts), RetryAfter: retryAfter}
}

// WriteFailed returns a storage write error wrapping cause.
func WriteFailed(cause error) *Error {
	return &Error{Kind: KindWriteFailed, Message: UserMessage(KindWriteFailed), Cause: cause}
}

// LockTimeout returns a lock-acquisition timeout error.
func LockTimeout(resource string) *Error {
	return &Error{Kind: KindLockTimeout, Message: fmt.Sprintf("timed out waiting for lock on %s", resource)}
}

// Blocked returns a block-list rejection error.
func Blocked() *Error {
	return &Error{Kind: KindBlocked, Message: UserMessage(KindBlocked)}
}

// Unauthenticated returns an unauthenticated error.
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: UserMessage(KindUnauthenticated)}
}
