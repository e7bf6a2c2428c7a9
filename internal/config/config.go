// Package config provides configuration for the run orchestrator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseDriver string // sqlite or postgres
	DatabaseURL    string

	// Pub/sub
	PubSubBackend    string // memory or redis
	RedisURL         string
	SubscriberBuffer int
	SubscriberPoll   time.Duration

	// Model provider
	LLMProvider     string // anthropic, openai or mock
	AnthropicAPIKey string
	LLMBaseURL      string
	LLMAPIKey       string
	DefaultModel    string
	LLMTimeout      time.Duration

	// Run defaults
	RunTimeout   time.Duration
	RunTurnLimit int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	// SubscriberGrace keeps a disconnected client's subscriptions alive
	// so a reconnect with the same subscriber_id resumes them.
	SubscriberGrace time.Duration

	// Triggers
	TriggerDedup string // sql or redis

	// Files
	ConfigFile string
	PolicyFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		DatabaseDriver:   getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:      getEnv("DATABASE_URL", "file:agentrun.db?cache=shared&mode=rwc"),
		PubSubBackend:    getEnv("PUBSUB_BACKEND", "memory"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SubscriberBuffer: getEnvInt("SUBSCRIBER_BUFFER", 256),
		SubscriberPoll:   time.Duration(getEnvInt("SUBSCRIBER_POLL_MS", 500)) * time.Millisecond,
		LLMProvider:      getEnv("LLM_PROVIDER", "mock"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "http://localhost:4000"),
		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		DefaultModel:     getEnv("DEFAULT_MODEL", "claude-sonnet-4-5"),
		LLMTimeout:       time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		RunTimeout:       time.Duration(getEnvInt("RUN_TIMEOUT_SECONDS", 600)) * time.Second,
		RunTurnLimit:     getEnvInt("RUN_TURN_LIMIT", 10),
		PingInterval:     time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:     time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:      time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:   int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		SubscriberGrace:  time.Duration(getEnvInt("WS_SUBSCRIBER_GRACE_MS", 30000)) * time.Millisecond,
		TriggerDedup:     getEnv("TRIGGER_DEDUP", "sql"),
		ConfigFile:       getEnv("CONFIG_FILE", ""),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
