package config

import (
	"encoding/json"
	"time"
)

// Config represents the main aiguide configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model provider
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Orchestrator
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Session lifecycle
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Knowledge store
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Content moderation
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP gateway configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	AllowedOrigins  []string      `json:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	PushInterval    time.Duration `json:"push_interval" mapstructure:"push_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxImageDim     int           `json:"max_image_dim" mapstructure:"max_image_dim"`
	MaxImageBytes   int           `json:"max_image_bytes" mapstructure:"max_image_bytes"`

	// Per-client limits on /chat, zero disables
	RateLimitPerMinute int `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	MaxConcurrent      int `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// ModelConfig holds model provider settings
type ModelConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // qwen, dashscope, openai, anthropic
	Name           string        `json:"name" mapstructure:"name"`
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	BaseURL        string        `json:"base_url" mapstructure:"base_url"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	AttemptTimeout time.Duration `json:"attempt_timeout" mapstructure:"attempt_timeout"`
	Retry          RetryConfig   `json:"retry" mapstructure:"retry"`
}

// RetryConfig holds model retry/backoff settings
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" mapstructure:"max_delay"`
	Multiplier float64       `json:"multiplier" mapstructure:"multiplier"`
	Jitter     float64       `json:"jitter" mapstructure:"jitter"`
}

// AgentConfig holds orchestrator settings
type AgentConfig struct {
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
	RunTimeout    time.Duration `json:"run_timeout" mapstructure:"run_timeout"`
	ToolTimeout   time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	SystemPrompt  string        `json:"system_prompt" mapstructure:"system_prompt"`
}

// SessionConfig holds session lifecycle settings
type SessionConfig struct {
	SweepInterval        time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
	IdleTimeout          time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	CleanupTimeout       time.Duration `json:"cleanup_timeout" mapstructure:"cleanup_timeout"`
	ProactiveEnabled     bool          `json:"proactive_enabled" mapstructure:"proactive_enabled"`
	ProactiveMinInterval time.Duration `json:"proactive_min_interval" mapstructure:"proactive_min_interval"`
	ProactiveMaxInterval time.Duration `json:"proactive_max_interval" mapstructure:"proactive_max_interval"`
	ArchiveEnabled       bool          `json:"archive_enabled" mapstructure:"archive_enabled"`
	ArchiveDir           string        `json:"archive_dir" mapstructure:"archive_dir"`
}

// KnowledgeConfig holds knowledge store settings
type KnowledgeConfig struct {
	DBPath        string  `json:"db_path" mapstructure:"db_path"`
	SeedFile      string  `json:"seed_file" mapstructure:"seed_file"`
	Watch         bool    `json:"watch" mapstructure:"watch"`
	MinSimilarity float64 `json:"min_similarity" mapstructure:"min_similarity"`
	DefaultLimit  int     `json:"default_limit" mapstructure:"default_limit"`
}

// ModerationConfig holds content filter settings
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			AllowedOrigins:  []string{"*"},
			MaxUploadBytes:  10 << 20,
			PushInterval:    2 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxImageDim:     1600,
			MaxImageBytes:   4 << 20,

			RateLimitPerMinute: 60,
			MaxConcurrent:      10,
		},
		Model: ModelConfig{
			Provider:       "qwen",
			Name:           "qwen-vl-max",
			Temperature:    0.7,
			MaxTokens:      1024,
			AttemptTimeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  time.Second,
				MaxDelay:   10 * time.Second,
				Multiplier: 2,
				Jitter:     0.5,
			},
		},
		Agent: AgentConfig{
			MaxIterations: 8,
			RunTimeout:    2 * time.Minute,
			ToolTimeout:   30 * time.Second,
		},
		Session: SessionConfig{
			SweepInterval:        time.Hour,
			IdleTimeout:          4 * time.Hour,
			CleanupTimeout:       5 * time.Second,
			ProactiveEnabled:     true,
			ProactiveMinInterval: 5 * time.Second,
			ProactiveMaxInterval: 10 * time.Second,
			ArchiveEnabled:       true,
		},
		Knowledge: KnowledgeConfig{
			Watch:         true,
			MinSimilarity: 0.3,
			DefaultLimit:  5,
		},
		Moderation: ModerationConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "aiguide",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	redacted := *c
	if redacted.Model.APIKey != "" {
		redacted.Model.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}
