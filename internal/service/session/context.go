package session

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
)

// Invoker is a model invocation handle bound to one credential and the
// fixed system instruction. history never includes message.
type Invoker interface {
	Invoke(ctx context.Context, history []chat.Turn, message string) (string, error)
	Stream(ctx context.Context, history []chat.Turn, message string, onDelta func(string)) (string, error)
}

// InvokerFactory builds an Invoker for the supplied credential.
type InvokerFactory func(ctx context.Context, credential string) (Invoker, error)

// Context is the conversation state of one session. It is owned by a Store;
// callers only ever see copies of the transcript.
type Context struct {
	id        string
	createdAt time.Time

	// slot serializes exchanges. It is held across the model call.
	slot chan struct{}

	mu          sync.RWMutex
	transcript  []chat.Turn
	invoker     Invoker
	fingerprint [sha256.Size]byte
	lastActive  time.Time
	// detached is set once the store drops the context.
	detached bool
}

func newContext(id string, inv Invoker, credential string, now time.Time) *Context {
	return &Context{
		id:          id,
		createdAt:   now,
		slot:        make(chan struct{}, 1),
		transcript:  make([]chat.Turn, 0, 16),
		invoker:     inv,
		fingerprint: sha256.Sum256([]byte(credential)),
		lastActive:  now,
	}
}

func (c *Context) ID() string {
	return c.id
}

func (c *Context) CreatedAt() time.Time {
	return c.createdAt
}

// LastActiveAt returns the time of the last lookup or exchange.
func (c *Context) LastActiveAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// Len returns the number of turns in the transcript.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.transcript)
}

// Transcript returns a copy of the ordered turns.
func (c *Context) Transcript() []chat.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make([]chat.Turn, len(c.transcript))
	copy(copied, c.transcript)
	return copied
}

// Snapshot returns a read-only copy of the context.
func (c *Context) Snapshot() chat.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make([]chat.Turn, len(c.transcript))
	copy(copied, c.transcript)
	return chat.Snapshot{
		SessionID:    c.id,
		Transcript:   copied,
		CreatedAt:    c.createdAt,
		LastActiveAt: c.lastActive,
	}
}

// acquire waits for exclusive use of the session or for ctx to end.
func (c *Context) acquire(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) release() {
	<-c.slot
}

func (c *Context) busy() bool {
	return len(c.slot) > 0
}

func (c *Context) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastActive) {
		c.lastActive = now
	}
	c.mu.Unlock()
}

func (c *Context) boundInvoker(credential string) (Invoker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invoker, c.fingerprint == sha256.Sum256([]byte(credential))
}

func (c *Context) rebind(inv Invoker, credential string) {
	c.mu.Lock()
	c.invoker = inv
	c.fingerprint = sha256.Sum256([]byte(credential))
	c.mu.Unlock()
}

func (c *Context) detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// appendExchange records both sides of one exchange, user first. It reports
// false, appending nothing, when the context was removed from its store.
func (c *Context) appendExchange(user, assistant chat.Turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return false
	}
	c.transcript = append(c.transcript, user, assistant)
	if assistant.Timestamp.After(c.lastActive) {
		c.lastActive = assistant.Timestamp
	}
	return true
}
