package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
	"github.com/zhouzirui/ai-dietitian/backend/internal/model/chat"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
)

// Factory builds model invocation handles bound to a caller's credential.
type Factory struct {
	cfg    config.AIConfig
	system string
	log    logrus.FieldLogger
}

// NewFactory creates a Factory for the configured provider.
func NewFactory(cfg config.AIConfig, log logrus.FieldLogger) *Factory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Factory{
		cfg:    cfg,
		system: SystemPrompt,
		log:    log.WithField("component", "ai"),
	}
}

// StreamingEnabled 指示是否开启流式输出。
func (f *Factory) StreamingEnabled() bool {
	return f.cfg.StreamResponse
}

// NewInvoker compiles a prompt chain around a chat model that uses
// credential. It has the session.InvokerFactory signature.
func (f *Factory) NewInvoker(ctx context.Context, credential string) (session.Invoker, error) {
	chatModel, err := newChatModel(ctx, f.cfg, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	f.log.WithFields(logrus.Fields{"provider": f.cfg.Provider, "model": f.cfg.Model}).Debug("model handle built")

	return &Handle{chain: runnable, system: f.system}, nil
}

// Handle is a compiled chain bound to one credential.
type Handle struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	system string
}

// Invoke runs the chain once and returns the assistant reply.
func (h *Handle) Invoke(ctx context.Context, history []chat.Turn, message string) (string, error) {
	response, err := h.chain.Invoke(ctx, h.buildChainInput(history, message))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", errors.New("model returned no message")
	}
	return response.Content, nil
}

// Stream runs the chain in streaming mode, forwarding content chunks to
// onDelta, and returns the concatenated reply.
func (h *Handle) Stream(ctx context.Context, history []chat.Turn, message string, onDelta func(string)) (string, error) {
	stream, err := h.chain.Stream(ctx, h.buildChainInput(history, message))
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", fmt.Errorf("ai stream recv failed: %w", recvErr)
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" && onDelta != nil {
			onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", errors.New("model stream ended without content")
	}

	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("concat ai chunks failed: %w", err)
	}
	return merged.Content, nil
}

func (h *Handle) buildChainInput(history []chat.Turn, message string) map[string]any {
	return map[string]any{
		"system":  h.system,
		"history": buildHistoryMessages(history),
		"query":   message,
	}
}

// buildHistoryMessages replays the whole transcript; nothing is truncated.
func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}

	return history
}
