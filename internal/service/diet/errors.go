package diet

import (
	"context"
	"errors"

	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
)

// Kind classifies an error for external callers.
type Kind string

const (
	KindInvalidSessionID        Kind = "invalid_session_id"
	KindInvalidMessage          Kind = "invalid_message"
	KindInvalidCredentialFormat Kind = "invalid_credential_format"
	KindUnauthorized            Kind = "unauthorized"
	KindNotFound                Kind = "not_found"
	KindModelInvocationFailed   Kind = "model_invocation_failed"
	KindTimeout                 Kind = "timeout"
	KindInternal                Kind = "internal_error"
)

// KindOf maps err onto the external error taxonomy. Unknown errors are
// KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrInvalidID):
		return KindInvalidSessionID
	case errors.Is(err, session.ErrInvalidMessage):
		return KindInvalidMessage
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidCredentialFormat):
		return KindInvalidCredentialFormat
	case errors.Is(err, session.ErrNotFound):
		return KindNotFound
	case errors.Is(err, session.ErrModelInvocationFailed):
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}
		return KindModelInvocationFailed
	default:
		return KindInternal
	}
}

// PublicMessage returns caller safe text for kind. Internal detail is never
// part of it.
func PublicMessage(kind Kind) string {
	switch kind {
	case KindInvalidSessionID:
		return "Session ID must be 1-100 characters: letters, digits, hyphens and underscores"
	case KindInvalidMessage:
		return "Message must be non-empty and within the length limit"
	case KindUnauthorized:
		return "API key required. Provide it in the Authorization header as a Bearer token"
	case KindInvalidCredentialFormat:
		return "Invalid API key format"
	case KindNotFound:
		return "Session not found"
	case KindModelInvocationFailed:
		return "Failed to generate response"
	case KindTimeout:
		return "Timed out waiting for the model"
	default:
		return "Internal server error occurred"
	}
}
