package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
)

// newChatModel 按 provider 创建绑定到 credential 的模型实例。
func newChatModel(ctx context.Context, cfg config.AIConfig, credential string) (model.BaseChatModel, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("credential is required")
	}

	switch cfg.Provider {
	case config.ProviderArk, "":
		return newArkChatModel(ctx, cfg, credential)
	case config.ProviderOpenAI, config.ProviderAzure:
		return newOpenAIChatModel(cfg, credential)
	case config.ProviderScripted:
		return NewScriptedModel(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func newArkChatModel(ctx context.Context, c config.AIConfig, credential string) (model.BaseChatModel, error) {
	if c.Model == "" {
		return nil, fmt.Errorf("Ark 模型配置缺失，请设置 DIET_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      credential,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}
