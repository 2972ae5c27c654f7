package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryable_StorageAndRateLimit(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{WriteFailed(errors.New("disk full")), true},
		{LockTimeout("admins/a1"), true},
		{TooManyAttempts(30 * time.Minute), true},
		{InvalidCredentials(), false},
		{TokenExpired(), false},
		{TokenRevoked(), false},
		{NotOwner(), false},
		{SessionNotFound("s1"), false},
		{UsernameTaken("alice"), false},
	}
	for _, c := range cases {
		if got := c.err.Retryable(); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.err.Kind, got, c.want)
		}
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotOwner())
	if got := KindOf(err); got != KindNotOwner {
		t.Errorf("KindOf = %q, want %q", got, KindNotOwner)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf(plain error) should be empty")
	}
}

func TestIs(t *testing.T) {
	if !Is(TokenExpired(), KindTokenExpired) {
		t.Error("Is should match the error kind")
	}
	if Is(TokenExpired(), KindTokenRevoked) {
		t.Error("Is should not match a different kind")
	}
}

func TestTooManyAttempts_RetryAfter(t *testing.T) {
	e := TooManyAttempts(1800 * time.Second)
	if e.RetryAfter != 1800*time.Second {
		t.Errorf("RetryAfter = %v, want 1800s", e.RetryAfter)
	}
}

func TestUserMessage_CoversAllKinds(t *testing.T) {
	kinds := []Kind{
		KindInvalidCredentials, KindTokenExpired, KindTokenInvalid, KindTokenRevoked,
		KindNotOwner, KindInsufficientPermission, KindIdentityNotFound, KindSessionNotFound,
		KindUsernameTaken, KindTooManyAttempts, KindWriteFailed, KindLockTimeout,
		KindBlocked, KindUnauthenticated,
	}
	for _, k := range kinds {
		if UserMessage(k) == "" || UserMessage(k) == "internal error" {
			t.Errorf("UserMessage(%s) missing", k)
		}
	}
	if UserMessage(Kind("nope")) != "internal error" {
		t.Error("unknown kind should fall back to generic message")
	}
}

func TestErrorString_IncludesCause(t *testing.T) {
	cause := errors.New("permission denied")
	e := WriteFailed(cause)
	if !errors.Is(e, cause) {
		t.Error("wrapped cause should satisfy errors.Is")
	}
	if e.Error() == e.Message {
		t.Error("Error() should include the cause")
	}
}
