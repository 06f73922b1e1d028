package diet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
)

var (
	ErrUnauthorized            = errors.New("credential required")
	ErrInvalidCredentialFormat = errors.New("invalid credential format")
)

// Status values reported by Initialize and Clear.
const (
	StatusInitialized = "initialized"
	StatusExists      = "exists"
	StatusCleared     = "cleared"
	StatusNotFound    = "not_found"
)

// Health summarises the service for monitoring.
type Health struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	ActiveSessions int       `json:"active_sessions"`
}

// Service is the front end independent entry point: it validates input at
// the boundary and drives the session store and turn processor.
type Service struct {
	store            *session.Store
	processor        *session.Processor
	credentialCheck  CredentialCheck
	startedAt        time.Time
	now              func() time.Time
	log              logrus.FieldLogger
}

// Option customises a Service.
type Option func(*Service)

// WithCredentialPrefix requires credentials to start with prefix.
func WithCredentialPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix == "" {
			s.credentialCheck = nil
			return
		}
		s.credentialCheck = PrefixCheck(prefix)
	}
}

// WithCredentialCheck installs a provider format rule, see CheckFor. A nil
// check accepts any non-empty credential.
func WithCredentialCheck(check CredentialCheck) Option {
	return func(s *Service) {
		s.credentialCheck = check
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService wires a store and processor into a Service.
func NewService(store *session.Store, processor *session.Processor, opts ...Option) *Service {
	s := &Service{
		store:     store,
		processor: processor,
		now:       time.Now,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	s.log = s.log.WithField("component", "diet")
	return s
}

// ValidateCredential applies the provider's format convention. The
// credential itself is never logged.
func (s *Service) ValidateCredential(credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrUnauthorized
	}
	if s.credentialCheck != nil && !s.credentialCheck(credential) {
		return ErrInvalidCredentialFormat
	}
	return nil
}

// Initialize creates a session. An existing session is left untouched and
// reported as StatusExists.
func (s *Service) Initialize(ctx context.Context, sessionID, credential string) (string, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return "", err
	}
	if err := s.ValidateCredential(credential); err != nil {
		return "", err
	}

	_, err := s.store.Create(ctx, sessionID, strings.TrimSpace(credential))
	switch {
	case errors.Is(err, session.ErrAlreadyExists):
		return StatusExists, nil
	case err != nil:
		s.log.WithError(err).WithField("session_id", sessionID).Error("failed to initialize session")
		return "", err
	}

	s.log.WithField("session_id", sessionID).Info("initialized session")
	return StatusInitialized, nil
}

// Chat sends message on sessionID, creating the session when absent.
func (s *Service) Chat(ctx context.Context, sessionID, credential, message string) (chat.Turn, error) {
	c, credential, err := s.prepare(ctx, sessionID, credential, message)
	if err != nil {
		return chat.Turn{}, err
	}
	return s.processor.Respond(ctx, c, credential, message)
}

// ChatStream behaves like Chat and forwards partial output to onDelta.
func (s *Service) ChatStream(ctx context.Context, sessionID, credential, message string, onDelta func(string)) (chat.Turn, error) {
	c, credential, err := s.prepare(ctx, sessionID, credential, message)
	if err != nil {
		return chat.Turn{}, err
	}
	return s.processor.RespondStream(ctx, c, credential, message, onDelta)
}

func (s *Service) prepare(ctx context.Context, sessionID, credential, message string) (*session.Context, string, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return nil, "", err
	}
	if err := s.ValidateCredential(credential); err != nil {
		return nil, "", err
	}
	if err := s.processor.ValidateMessage(message); err != nil {
		return nil, "", err
	}
	credential = strings.TrimSpace(credential)

	c, created, err := s.store.GetOrCreate(ctx, sessionID, credential)
	if err != nil {
		return nil, "", err
	}
	if created {
		s.log.WithField("session_id", sessionID).Info("auto-initialized session")
	}
	return c, credential, nil
}

// Clear removes a session. A missing session is StatusNotFound, not an error.
func (s *Service) Clear(sessionID string) (string, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return "", err
	}
	if !s.store.Delete(sessionID) {
		return StatusNotFound, nil
	}
	s.log.WithField("session_id", sessionID).Info("cleared session")
	return StatusCleared, nil
}

// Sessions lists active session identifiers.
func (s *Service) Sessions() []string {
	return s.store.List()
}

// Transcript returns a copy of the turns recorded for sessionID.
func (s *Service) Transcript(sessionID string) ([]chat.Turn, error) {
	c, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return c.Transcript(), nil
}

// Snapshot returns a read-only copy of the session, transcript included.
func (s *Service) Snapshot(sessionID string) (chat.Snapshot, error) {
	c, err := s.store.Get(sessionID)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// Health reports uptime and the number of active sessions.
func (s *Service) Health() Health {
	now := s.now()
	return Health{
		Status:         "healthy",
		Timestamp:      now,
		UptimeSeconds:  now.Sub(s.startedAt).Seconds(),
		ActiveSessions: s.store.Len(),
	}
}
