package apperrors

// userMessages maps each kind to the message shown to operators. Pure data so
// it can be tested independently of any transport wiring.
var userMessages = map[Kind]string{
	KindInvalidCredentials:     "invalid username or password",
	KindTokenExpired:           "access token expired",
	KindTokenInvalid:           "token is malformed or has an invalid signature",
	KindTokenRevoked:           "token has been revoked; re-authentication required",
	KindNotOwner:               "only the session owner may perform this operation",
	KindInsufficientPermission: "identity lacks permission for this operation",
	KindIdentityNotFound:       "identity not found",
	KindSessionNotFound:        "session not found",
	KindUsernameTaken:          "username is already registered",
	KindTooManyAttempts:        "too many attempts; slow down and retry later",
	KindWriteFailed:            "storage write failed",
	KindLockTimeout:            "storage is busy; retry shortly",
	KindBlocked:                "connection is blocked",
	KindUnauthenticated:        "authentication required",
}

// UserMessage returns the operator-facing message for kind, or a generic
// fallback for unknown kinds.
func UserMessage(kind Kind) string {
	if m, ok := userMessages[kind]; ok {
		return m
	}
	return "internal error"
}
