package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
)

// DefaultMaxMessageLength bounds a single user message, in characters.
const DefaultMaxMessageLength = 2000

// Processor runs one request/response cycle against a conversation context.
type Processor struct {
	factory InvokerFactory
	maxLen  int
	now     func() time.Time
	log     logrus.FieldLogger
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithMaxMessageLength overrides DefaultMaxMessageLength.
func WithMaxMessageLength(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxLen = n
		}
	}
}

// WithProcessorClock overrides the time source used for turn timestamps.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithProcessorLogger sets the logger used by the processor.
func WithProcessorLogger(log logrus.FieldLogger) ProcessorOption {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProcessor creates a Processor. factory is used to rebind a context when
// a request carries a different credential than the one it was built with.
func NewProcessor(factory InvokerFactory, opts ...ProcessorOption) *Processor {
	p := &Processor{
		factory: factory,
		maxLen:  DefaultMaxMessageLength,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("component", "turn-processor")
	return p
}

// ValidateMessage rejects empty or oversized user messages.
func (p *Processor) ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(message); n > p.maxLen {
		return fmt.Errorf("%w: message has %d characters, limit is %d", ErrInvalidMessage, n, p.maxLen)
	}
	return nil
}

// Respond sends message to the model with the full transcript and records
// the exchange. On failure the transcript is left untouched.
func (p *Processor) Respond(ctx context.Context, c *Context, credential, message string) (chat.Turn, error) {
	return p.exchange(ctx, c, credential, message, func(inv Invoker, history []chat.Turn) (string, error) {
		return inv.Invoke(ctx, history, message)
	})
}

// RespondStream behaves like Respond but reports partial output through
// onDelta while the model is generating.
func (p *Processor) RespondStream(ctx context.Context, c *Context, credential, message string, onDelta func(string)) (chat.Turn, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return p.exchange(ctx, c, credential, message, func(inv Invoker, history []chat.Turn) (string, error) {
		return inv.Stream(ctx, history, message, onDelta)
	})
}

func (p *Processor) exchange(ctx context.Context, c *Context, credential, message string, call func(Invoker, []chat.Turn) (string, error)) (chat.Turn, error) {
	if c == nil {
		return chat.Turn{}, ErrNotFound
	}
	if err := p.ValidateMessage(message); err != nil {
		return chat.Turn{}, err
	}

	log := p.log.WithField("session_id", c.ID())

	if err := c.acquire(ctx); err != nil {
		return chat.Turn{}, &InvocationError{Err: fmt.Errorf("waiting for session: %w", err)}
	}
	defer c.release()

	asked := p.now()
	c.touch(asked)

	inv, err := p.invokerFor(ctx, c, credential)
	if err != nil {
		return chat.Turn{}, err
	}

	history := c.Transcript()
	reply, err := call(inv, history)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		log.WithError(err).WithField("elapsed", p.now().Sub(asked)).Warn("model invocation failed")
		return chat.Turn{}, &InvocationError{Err: err}
	}

	userTurn := chat.Turn{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   message,
		Timestamp: asked,
	}
	assistantTurn := chat.Turn{
		ID:        uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   reply,
		Timestamp: p.now(),
	}
	if !c.appendExchange(userTurn, assistantTurn) {
		log.Warn("session cleared during exchange, reply discarded")
		return chat.Turn{}, ErrNotFound
	}

	log.WithFields(logrus.Fields{
		"transcript_len": len(history) + 2,
		"elapsed":        assistantTurn.Timestamp.Sub(asked),
	}).Info("generated response")

	return assistantTurn, nil
}

func (p *Processor) invokerFor(ctx context.Context, c *Context, credential string) (Invoker, error) {
	inv, bound := c.boundInvoker(credential)
	if bound {
		return inv, nil
	}

	rebound, err := p.factory(ctx, credential)
	if err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("build model handle: %w", err)}
	}
	c.rebind(rebound, credential)
	p.log.WithField("session_id", c.ID()).Info("rebound model handle to new credential")
	return rebound, nil
}
