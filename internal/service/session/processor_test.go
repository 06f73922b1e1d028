package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
)

func TestProcessorRespondAppendsExchange(t *testing.T) {
	f := &fakeFactory{}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, err := store.Create(ctx, "s", "key")
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	for i := 1; i <= 2; i++ {
		msg := fmt.Sprintf("message %d", i)
		reply, err := proc.Respond(ctx, c, "key", msg)
		if err != nil {
			t.Fatalf("Respond err: %v", err)
		}
		if reply.Role != chat.RoleAssistant || reply.Content != "reply to "+msg {
			t.Fatalf("unexpected reply: %+v", reply)
		}
		if c.Len() != 2*i {
			t.Fatalf("expected %d turns, got %d", 2*i, c.Len())
		}
	}

	turns := c.Transcript()
	if turns[2].Role != chat.RoleUser || turns[2].Content != "message 2" {
		t.Fatalf("unexpected user turn: %+v", turns[2])
	}
	if turns[3].ID != "" && turns[3].ID == turns[2].ID {
		t.Fatal("expected distinct turn ids")
	}
	if turns[3].Timestamp.Before(turns[2].Timestamp) {
		t.Fatal("assistant turn must not precede the user turn")
	}
}

func TestProcessorPassesPriorTranscript(t *testing.T) {
	inv := &fakeInvoker{}
	f := &fakeFactory{invoker: inv}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "key")
	if _, err := proc.Respond(ctx, c, "key", "one"); err != nil {
		t.Fatalf("Respond err: %v", err)
	}
	if _, err := proc.Respond(ctx, c, "key", "two"); err != nil {
		t.Fatalf("Respond err: %v", err)
	}

	if len(inv.histories) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(inv.histories))
	}
	if len(inv.histories[0]) != 0 {
		t.Fatalf("first call should see an empty transcript, got %d", len(inv.histories[0]))
	}
	second := inv.histories[1]
	if len(second) != 2 || second[0].Content != "one" || second[1].Content != "reply to one" {
		t.Fatalf("unexpected history on second call: %+v", second)
	}
}

func TestProcessorFailureLeavesTranscriptUntouched(t *testing.T) {
	cause := errors.New("quota exceeded")
	inv := &fakeInvoker{}
	f := &fakeFactory{invoker: inv}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "key")
	if _, err := proc.Respond(ctx, c, "key", "hello"); err != nil {
		t.Fatalf("Respond err: %v", err)
	}

	inv.err = cause
	_, err := proc.Respond(ctx, c, "key", "again")
	if !errors.Is(err, ErrModelInvocationFailed) {
		t.Fatalf("expected ErrModelInvocationFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the cause to be wrapped, got %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected transcript length 2, got %d", c.Len())
	}

	inv.err = nil
	if _, err := proc.Respond(ctx, c, "key", "recovered"); err != nil {
		t.Fatalf("session should stay usable: %v", err)
	}
	if c.Len() != 4 {
		t.Fatalf("expected transcript length 4, got %d", c.Len())
	}
}

func TestProcessorEmptyReplyIsFailure(t *testing.T) {
	inv := &emptyInvoker{}
	proc := NewProcessor(func(context.Context, string) (Invoker, error) { return inv, nil }, WithProcessorLogger(quietLogger()))
	store := NewStore(func(context.Context, string) (Invoker, error) { return inv, nil }, WithLogger(quietLogger()))

	c, _ := store.Create(ctx, "s", "key")
	if _, err := proc.Respond(ctx, c, "key", "hi"); !errors.Is(err, ErrModelInvocationFailed) {
		t.Fatalf("expected ErrModelInvocationFailed, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty transcript, got %d", c.Len())
	}
}

type emptyInvoker struct{}

func (emptyInvoker) Invoke(context.Context, []chat.Turn, string) (string, error) { return "  ", nil }

func (emptyInvoker) Stream(context.Context, []chat.Turn, string, func(string)) (string, error) {
	return "", nil
}

func TestProcessorValidatesMessage(t *testing.T) {
	f := &fakeFactory{}
	store := newTestStore(f)
	proc := NewProcessor(f.New, WithMaxMessageLength(10), WithProcessorLogger(quietLogger()))

	c, _ := store.Create(ctx, "s", "key")
	for _, msg := range []string{"", "   ", strings.Repeat("a", 11)} {
		if _, err := proc.Respond(ctx, c, "key", msg); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("message %q: expected ErrInvalidMessage, got %v", msg, err)
		}
	}
	if _, err := proc.Respond(ctx, c, "key", "ümlautsüü"); err != nil {
		t.Fatalf("multi-byte message within the limit should pass: %v", err)
	}
}

func TestProcessorConcurrentSameSession(t *testing.T) {
	inv := &fakeInvoker{delay: time.Millisecond}
	f := &fakeFactory{invoker: inv}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "shared", "key")
	if _, err := proc.Respond(ctx, c, "key", "seed"); err != nil {
		t.Fatalf("Respond err: %v", err)
	}
	before := c.Len()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := proc.Respond(ctx, c, "key", fmt.Sprintf("msg-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Respond err: %v", err)
	}

	turns := c.Transcript()
	if len(turns) != before+2*n {
		t.Fatalf("expected %d turns, got %d", before+2*n, len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		user, assistant := turns[i], turns[i+1]
		if user.Role != chat.RoleUser || assistant.Role != chat.RoleAssistant {
			t.Fatalf("turns %d/%d out of order: %s, %s", i, i+1, user.Role, assistant.Role)
		}
		if assistant.Content != "reply to "+user.Content {
			t.Fatalf("turn pair %d mismatched: %q -> %q", i/2, user.Content, assistant.Content)
		}
	}
	for _, h := range inv.histories {
		if len(h)%2 != 0 {
			t.Fatalf("invocation observed a half-written exchange (%d turns)", len(h))
		}
	}
}

func TestProcessorGivesUpWaitingOnCancel(t *testing.T) {
	inv := &fakeInvoker{block: make(chan struct{})}
	f := &fakeFactory{invoker: inv}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "key")

	done := make(chan error, 1)
	go func() {
		_, err := proc.Respond(ctx, c, "key", "slow")
		done <- err
	}()

	for !c.busy() {
		time.Sleep(time.Millisecond)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := proc.Respond(waitCtx, c, "key", "impatient")
	if !errors.Is(err, ErrModelInvocationFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a timed out invocation error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected no turns while the first exchange is pending, got %d", c.Len())
	}

	close(inv.block)
	if err := <-done; err != nil {
		t.Fatalf("first exchange err: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", c.Len())
	}
}

func TestProcessorReportsSessionClearedMidExchange(t *testing.T) {
	inv := &fakeInvoker{block: make(chan struct{})}
	f := &fakeFactory{invoker: inv}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "key")

	done := make(chan error, 1)
	go func() {
		_, err := proc.Respond(ctx, c, "key", "hello")
		done <- err
	}()

	for !c.busy() {
		time.Sleep(time.Millisecond)
	}
	if !store.Delete("s") {
		t.Fatal("expected Delete to remove the session")
	}
	close(inv.block)

	if err := <-done; !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a cleared session, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("detached context must not record the exchange, got %d turns", c.Len())
	}

	fresh, err := store.Create(ctx, "s", "key")
	if err != nil {
		t.Fatalf("recreate err: %v", err)
	}
	if fresh.Len() != 0 {
		t.Fatalf("recreated session should start empty, got %d turns", fresh.Len())
	}
}

func TestProcessorTimeoutDuringInvocation(t *testing.T) {
	inv := &fakeInvoker{block: make(chan struct{})}
	f := &fakeFactory{invoker: inv}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "key")

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := proc.Respond(timeoutCtx, c, "key", "hello"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty transcript, got %d", c.Len())
	}

	close(inv.block)
	if _, err := proc.Respond(ctx, c, "key", "hello"); err != nil {
		t.Fatalf("session should stay usable: %v", err)
	}
}

func TestProcessorRebindsOnNewCredential(t *testing.T) {
	f := &fakeFactory{}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "first")
	if _, err := proc.Respond(ctx, c, "first", "a"); err != nil {
		t.Fatalf("Respond err: %v", err)
	}
	if _, err := proc.Respond(ctx, c, "second", "b"); err != nil {
		t.Fatalf("Respond err: %v", err)
	}

	if fmt.Sprint(f.built) != "[first second]" {
		t.Fatalf("unexpected handle builds: %v", f.built)
	}
	inv, bound := c.boundInvoker("second")
	if !bound || inv.(*fakeInvoker).credential != "second" {
		t.Fatal("expected context to be bound to the new credential")
	}
	if c.Len() != 4 {
		t.Fatalf("rebinding must keep the transcript, got %d turns", c.Len())
	}
}

func TestProcessorRespondStream(t *testing.T) {
	f := &fakeFactory{}
	store := newTestStore(f)
	proc := newTestProcessor(f)

	c, _ := store.Create(ctx, "s", "key")

	var deltas []string
	reply, err := proc.RespondStream(ctx, c, "key", "stream me", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("RespondStream err: %v", err)
	}
	if strings.Join(deltas, "") != reply.Content {
		t.Fatalf("deltas %q do not add up to %q", deltas, reply.Content)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", c.Len())
	}
}
