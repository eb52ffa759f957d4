// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/codetutor/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	AppEnv      string
	DBPath      string

	// LLMTimeout bounds each completion call, StoreTimeout each store call.
	LLMTimeout   time.Duration
	StoreTimeout time.Duration

	LLM llm.Config

	QuizDefaultQuestions int

	// JWTSecret enables bearer-token identity when set.
	JWTSecret string

	RedisAddr    string
	RedisChannel string

	// GRPCPort enables the gRPC health server when set.
	GRPCPort string

	Sandbox SandboxConfig

	// ChatSessionRetention of 0 keeps chat sessions forever.
	ChatSessionRetention time.Duration
	RetentionInterval    time.Duration

	ConversationLog ConversationLogConfig
}

// SandboxConfig controls the optional code runner.
type SandboxConfig struct {
	Enabled  bool
	Runtime  string // Docker runtime: "" = default (runc), "runsc" = gVisor
	Timeout  time.Duration
	MemoryMB int64
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		FrontendURL:          getEnv("FRONTEND_URL", ""),
		AppEnv:               getEnv("APP_ENV", "development"),
		DBPath:               getEnv("DB_PATH", "./data/tutor.db"),
		LLMTimeout:           getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		StoreTimeout:         getEnvDuration("STORE_TIMEOUT", 30*time.Second),
		LLM:                  loadLLM(),
		QuizDefaultQuestions: getEnvInt("QUIZ_DEFAULT_QUESTIONS", 5),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisChannel:         getEnv("REDIS_CHANNEL", "codetutor:chat"),
		GRPCPort:             getEnv("GRPC_PORT", ""),
		Sandbox: SandboxConfig{
			Enabled:  getEnvBool("SANDBOX_ENABLED", false),
			Runtime:  getEnv("SANDBOX_RUNTIME", ""),
			Timeout:  getEnvDuration("SANDBOX_TIMEOUT", 10*time.Second),
			MemoryMB: int64(getEnvInt("SANDBOX_MEMORY_MB", 128)),
		},
		ChatSessionRetention: getEnvDuration("CHAT_SESSION_RETENTION", 0),
		RetentionInterval:    getEnvDuration("RETENTION_INTERVAL", time.Hour),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadLLM() llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Provider = getEnv("LLM_PROVIDER", cfg.Provider)
	cfg.MaxTokens = getEnvInt("LLM_MAX_TOKENS", cfg.MaxTokens)
	cfg.Retry.MaxAttempts = getEnvInt("LLM_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)

	cfg.Anthropic.APIKey = getEnv("ANTHROPIC_API_KEY", "")
	cfg.Anthropic.Model = getEnv("ANTHROPIC_MODEL", cfg.Anthropic.Model)
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.OpenAI.Model = getEnv("OPENAI_MODEL", cfg.OpenAI.Model)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", "")
	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", "")
	cfg.Gemini.Model = getEnv("GEMINI_MODEL", cfg.Gemini.Model)
	cfg.OpenRouter.APIKey = getEnv("OPENROUTER_API_KEY", "")
	cfg.OpenRouter.Model = getEnv("OPENROUTER_MODEL", cfg.OpenRouter.Model)
	return cfg
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be > 0")
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.QuizDefaultQuestions <= 0 || c.QuizDefaultQuestions > 20 {
		return fmt.Errorf("QUIZ_DEFAULT_QUESTIONS must be between 1 and 20")
	}
	if c.ChatSessionRetention < 0 {
		return fmt.Errorf("CHAT_SESSION_RETENTION cannot be negative")
	}
	if c.ChatSessionRetention > 0 && c.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be > 0 when retention is enabled")
	}
	if c.Sandbox.Enabled && c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment reports whether error envelopes may carry stack traces.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "production", "prod":
		return false
	case "development", "dev", "local":
		return true
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
