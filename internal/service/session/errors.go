package session

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidID             = errors.New("invalid session id")
	ErrAlreadyExists         = errors.New("session already exists")
	ErrNotFound              = errors.New("session not found")
	ErrInvalidMessage        = errors.New("invalid message")
	ErrModelInvocationFailed = errors.New("model invocation failed")
)

// InvocationError wraps the cause of a failed model call. It matches
// ErrModelInvocationFailed under errors.Is and unwraps to the cause.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	if e.Err == nil {
		return ErrModelInvocationFailed.Error()
	}
	return ErrModelInvocationFailed.Error() + ": " + e.Err.Error()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func (e *InvocationError) Is(target error) bool {
	return target == ErrModelInvocationFailed
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidateID checks a caller supplied session identifier.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}
