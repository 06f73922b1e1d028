package cli

import (
	"context"

	"github.com/google/uuid"

	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
)

// Backend is the conversation a terminal session talks to.
type Backend interface {
	// Authenticate binds credential to the conversation.
	Authenticate(ctx context.Context, credential string) error
	// Send delivers one message and returns the full reply. onDelta, when
	// non-nil, receives partial output as it arrives.
	Send(ctx context.Context, message string, onDelta func(string)) (string, error)
	// Clear resets the conversation to an empty transcript.
	Clear(ctx context.Context) error
	Close() error
}

// LocalBackend runs the conversation in process against a diet.Service.
type LocalBackend struct {
	svc        *diet.Service
	sessionID  string
	credential string
	streaming  bool
}

// NewLocalBackend creates a backend with an implicit session. An empty
// sessionID gets a generated one.
func NewLocalBackend(svc *diet.Service, sessionID string, streaming bool) *LocalBackend {
	if sessionID == "" {
		sessionID = "cli-" + uuid.NewString()
	}
	return &LocalBackend{svc: svc, sessionID: sessionID, streaming: streaming}
}

// SessionID reports the session the backend drives.
func (b *LocalBackend) SessionID() string {
	return b.sessionID
}

func (b *LocalBackend) Authenticate(ctx context.Context, credential string) error {
	if _, err := b.svc.Initialize(ctx, b.sessionID, credential); err != nil {
		return err
	}
	b.credential = credential
	return nil
}

func (b *LocalBackend) Send(ctx context.Context, message string, onDelta func(string)) (string, error) {
	if b.streaming && onDelta != nil {
		reply, err := b.svc.ChatStream(ctx, b.sessionID, b.credential, message, onDelta)
		return reply.Content, err
	}
	reply, err := b.svc.Chat(ctx, b.sessionID, b.credential, message)
	return reply.Content, err
}

// Clear drops the session and starts a fresh one under the same id.
func (b *LocalBackend) Clear(ctx context.Context) error {
	if _, err := b.svc.Clear(b.sessionID); err != nil {
		return err
	}
	_, err := b.svc.Initialize(ctx, b.sessionID, b.credential)
	return err
}

func (b *LocalBackend) Close() error {
	_, err := b.svc.Clear(b.sessionID)
	return err
}
