package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store maps session identifiers to conversation contexts. Entries live for
// the lifetime of the process unless an idle TTL is configured.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Context

	factory InvokerFactory
	idleTTL time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

// Option customises a Store.
type Option func(*Store)

// WithIdleTTL expires sessions that have been idle for longer than ttl.
// Zero disables expiry.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore creates an empty store whose contexts are bound to invokers built
// by factory.
func NewStore(factory InvokerFactory, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Context),
		factory:  factory,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "session-store")
	return s
}

// Exists reports whether id names a live session.
func (s *Store) Exists(id string) bool {
	_, ok := s.lookup(id)
	return ok
}

// Create provisions a fresh context for id. It fails with ErrAlreadyExists
// when id is already present.
func (s *Store) Create(ctx context.Context, id, credential string) (*Context, error) {
	c, created, err := s.create(ctx, id, credential)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyExists
	}
	return c, nil
}

// GetOrCreate returns the context for id, creating it when absent. The
// boolean reports whether a new context was created.
func (s *Store) GetOrCreate(ctx context.Context, id, credential string) (*Context, bool, error) {
	return s.create(ctx, id, credential)
}

// Get returns the context for id or ErrNotFound.
func (s *Store) Get(id string) (*Context, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	c, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	c.touch(s.now())
	return c, nil
}

// Delete removes id and reports whether an entry was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.sessions[id]
	if !ok {
		return false
	}
	delete(s.sessions, id)
	c.detach()
	return !s.expired(c, s.now())
}

// List returns the identifiers of all live sessions in lexical order.
func (s *Store) List() []string {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id, c := range s.sessions {
		if s.expired(c, now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return len(s.List())
}

// Sweep removes idle sessions and returns how many were evicted. Sessions
// with an exchange in flight are kept.
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, c := range s.sessions {
		if c.busy() || !s.expired(c, now) {
			continue
		}
		delete(s.sessions, id)
		c.detach()
		evicted++
	}
	if evicted > 0 {
		s.log.WithField("evicted", evicted).Info("swept idle sessions")
	}
	return evicted
}

// RunJanitor sweeps idle sessions every interval until ctx is done. It
// returns immediately when no idle TTL is configured.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) create(ctx context.Context, id, credential string) (*Context, bool, error) {
	if err := ValidateID(id); err != nil {
		return nil, false, err
	}
	if c, ok := s.lookup(id); ok {
		c.touch(s.now())
		return c, false, nil
	}

	inv, err := s.factory(ctx, credential)
	if err != nil {
		return nil, false, &InvocationError{Err: fmt.Errorf("build model handle: %w", err)}
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		if !s.expired(existing, now) {
			return existing, false, nil
		}
		existing.detach()
	}

	c := newContext(id, inv, credential, now)
	s.sessions[id] = c
	s.log.WithField("session_id", id).Info("session created")
	return c, true, nil
}

func (s *Store) lookup(id string) (*Context, bool) {
	now := s.now()

	s.mu.RLock()
	c, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !s.expired(c, now) {
		return c, true
	}

	s.mu.Lock()
	if current, ok := s.sessions[id]; ok && current == c && !c.busy() {
		delete(s.sessions, id)
		c.detach()
		s.log.WithField("session_id", id).Info("session expired")
	}
	s.mu.Unlock()
	return nil, false
}

func (s *Store) expired(c *Context, now time.Time) bool {
	if s.idleTTL <= 0 || c.busy() {
		return false
	}
	return now.Sub(c.LastActiveAt()) > s.idleTTL
}
