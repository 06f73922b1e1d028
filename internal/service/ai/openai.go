package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
)

const (
	azureEndpointPattern = `^https://[a-zA-Z0-9-]+\.openai\.azure\.com/?$`
	deploymentPattern    = `^[a-zA-Z0-9._-]+$`
)

var (
	azureEndpointRegex = regexp.MustCompile(azureEndpointPattern)
	deploymentRegex    = regexp.MustCompile(deploymentPattern)

	ErrNoCompletions = errors.New("no completions returned")
	ErrNoMessage     = errors.New("no message included in completion")
)

// openAIChatModel adapts the azopenai client to eino's BaseChatModel so the
// same prompt chain runs against OpenAI or Azure OpenAI.
type openAIChatModel struct {
	client      *azopenai.Client
	deployment  string
	maxTokens   *int32
	temperature *float32
	topP        *float32
}

func newOpenAIChatModel(cfg config.AIConfig, credential string) (*openAIChatModel, error) {
	if !deploymentRegex.MatchString(cfg.Model) {
		return nil, fmt.Errorf("invalid model or deployment name %q. must follow pattern: %s", cfg.Model, deploymentPattern)
	}

	keyCredential := azcore.NewKeyCredential(credential)

	var (
		client *azopenai.Client
		err    error
	)
	if cfg.Provider == config.ProviderAzure {
		if !azureEndpointRegex.MatchString(cfg.BaseURL) {
			return nil, fmt.Errorf("invalid Azure OpenAI endpoint. must follow pattern: %s", azureEndpointPattern)
		}
		client, err = azopenai.NewClientWithKeyCredential(cfg.BaseURL, keyCredential, nil)
	} else {
		client, err = azopenai.NewClientForOpenAI(cfg.BaseURL, keyCredential, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	m := &openAIChatModel{
		client:     client,
		deployment: cfg.Model,
		maxTokens:  to.Ptr(int32(2048)),
	}
	if cfg.MaxTokens != nil {
		m.maxTokens = to.Ptr(int32(*cfg.MaxTokens))
	}
	if cfg.Temperature != nil {
		m.temperature = to.Ptr(float32(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		m.topP = to.Ptr(float32(*cfg.TopP))
	}
	return m, nil
}

func (m *openAIChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	chatOptions := azopenai.ChatCompletionsOptions{
		Messages:       toRequestMessages(input),
		MaxTokens:      m.maxTokens,
		N:              to.Ptr(int32(1)),
		Temperature:    m.temperature,
		TopP:           m.topP,
		DeploymentName: &m.deployment,
	}

	resp, err := m.client.GetChatCompletions(ctx, chatOptions, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get completions: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrNoCompletions
	}

	choice := resp.Choices[0]
	if choice.Message == nil || choice.Message.Content == nil {
		return nil, ErrNoMessage
	}

	return schema.AssistantMessage(*choice.Message.Content, nil), nil
}

// Stream issues a single completion and replays it as a one chunk stream.
func (m *openAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func toRequestMessages(input []*schema.Message) []azopenai.ChatRequestMessageClassification {
	messages := make([]azopenai.ChatRequestMessageClassification, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			messages = append(messages, &azopenai.ChatRequestSystemMessage{Content: to.Ptr(msg.Content)})
		case schema.Assistant:
			messages = append(messages, &azopenai.ChatRequestAssistantMessage{Content: to.Ptr(msg.Content)})
		default:
			messages = append(messages, &azopenai.ChatRequestUserMessage{Content: azopenai.NewChatRequestUserMessageContent(msg.Content)})
		}
	}
	return messages
}
