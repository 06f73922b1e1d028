package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Session SessionConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Session: session, Log: loadLogConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	RequestTimeout time.Duration
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	timeout, err := parseDurationEnv("DIET_REQUEST_TIMEOUT", 60*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, RequestTimeout: timeout}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, RequestTimeout: timeout}, nil
}

// Supported model providers.
const (
	ProviderArk      = "ark"
	ProviderOpenAI   = "openai"
	ProviderAzure    = "azure"
	ProviderScripted = "scripted"
)

// AIConfig 描述大模型相关配置。API key 不在这里，由每个请求提供。
type AIConfig struct {
	Provider         string
	Model            string
	BaseURL          string
	Region           string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	StreamResponse   bool
	// CredentialPrefix overrides the provider's key format check when set.
	CredentialPrefix string
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("DIET_PROVIDER", ProviderArk))
	switch provider {
	case ProviderArk, ProviderOpenAI, ProviderAzure, ProviderScripted:
	default:
		return AIConfig{}, fmt.Errorf("invalid DIET_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("DIET_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("DIET_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("DIET_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("DIET_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		Provider:       provider,
		Model:          getEnvOrDefault("DIET_MODEL", defaultModel(provider)),
		BaseURL:        getEnvOrDefault("DIET_BASE_URL", defaultBaseURL(provider)),
		Region:         getEnvOrDefault("DIET_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}

	cfg.CredentialPrefix = strings.TrimSpace(os.Getenv("DIET_CREDENTIAL_PREFIX"))

	if provider == ProviderAzure && cfg.BaseURL == "" {
		return AIConfig{}, fmt.Errorf("DIET_BASE_URL is required for the azure provider")
	}

	return cfg, nil
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI, ProviderAzure:
		return "gpt-4o-mini"
	case ProviderScripted:
		return "scripted-dietitian"
	default:
		return "doubao-seed-1-6-flash-250615"
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderArk:
		return "https://ark.cn-beijing.volces.com/api/v3"
	default:
		return ""
	}
}

// SessionConfig 描述会话存储与消息约束。
type SessionConfig struct {
	MaxMessageLength int
	IdleTTL          time.Duration
	SweepInterval    time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	maxLen := 2000
	if override, err := parseOptionalIntEnv("DIET_MAX_MESSAGE_LENGTH"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SessionConfig{}, fmt.Errorf("invalid DIET_MAX_MESSAGE_LENGTH value %d", *override)
		}
		maxLen = *override
	}

	ttl, err := parseDurationEnv("DIET_SESSION_IDLE_TTL", 0)
	if err != nil {
		return SessionConfig{}, err
	}

	interval, err := parseDurationEnv("DIET_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{MaxMessageLength: maxLen, IdleTTL: ttl, SweepInterval: interval}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
