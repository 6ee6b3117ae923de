package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	// Read environment variables
	v.SetEnvPrefix("AIGUIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("model.api_key", "AIGUIDE_MODEL_API_KEY", "QWEN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind api key env: %w", err)
	}
	if err := v.BindEnv("model.base_url", "AIGUIDE_MODEL_BASE_URL", "QWEN_API_BASE"); err != nil {
		return nil, fmt.Errorf("failed to bind base url env: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType(configType(configPath))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".aiguide")
	}
	if cfg.Knowledge.DBPath == "" {
		cfg.Knowledge.DBPath = filepath.Join(cfg.DataDir, "knowledge.db")
	}
	if cfg.Session.ArchiveDir == "" {
		cfg.Session.ArchiveDir = filepath.Join(cfg.DataDir, "sessions")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aiguide", "aiguide.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// setDefaults registers every leaf key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.max_upload_bytes", cfg.Server.MaxUploadBytes)
	v.SetDefault("server.push_interval", cfg.Server.PushInterval)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.max_image_dim", cfg.Server.MaxImageDim)
	v.SetDefault("server.max_image_bytes", cfg.Server.MaxImageBytes)
	v.SetDefault("server.rate_limit_per_minute", cfg.Server.RateLimitPerMinute)
	v.SetDefault("server.max_concurrent", cfg.Server.MaxConcurrent)

	v.SetDefault("model.provider", cfg.Model.Provider)
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("model.temperature", cfg.Model.Temperature)
	v.SetDefault("model.max_tokens", cfg.Model.MaxTokens)
	v.SetDefault("model.attempt_timeout", cfg.Model.AttemptTimeout)
	v.SetDefault("model.retry.max_retries", cfg.Model.Retry.MaxRetries)
	v.SetDefault("model.retry.base_delay", cfg.Model.Retry.BaseDelay)
	v.SetDefault("model.retry.max_delay", cfg.Model.Retry.MaxDelay)
	v.SetDefault("model.retry.multiplier", cfg.Model.Retry.Multiplier)
	v.SetDefault("model.retry.jitter", cfg.Model.Retry.Jitter)

	v.SetDefault("agent.max_iterations", cfg.Agent.MaxIterations)
	v.SetDefault("agent.run_timeout", cfg.Agent.RunTimeout)
	v.SetDefault("agent.tool_timeout", cfg.Agent.ToolTimeout)
	v.SetDefault("agent.system_prompt", cfg.Agent.SystemPrompt)

	v.SetDefault("session.sweep_interval", cfg.Session.SweepInterval)
	v.SetDefault("session.idle_timeout", cfg.Session.IdleTimeout)
	v.SetDefault("session.cleanup_timeout", cfg.Session.CleanupTimeout)
	v.SetDefault("session.proactive_enabled", cfg.Session.ProactiveEnabled)
	v.SetDefault("session.proactive_min_interval", cfg.Session.ProactiveMinInterval)
	v.SetDefault("session.proactive_max_interval", cfg.Session.ProactiveMaxInterval)
	v.SetDefault("session.archive_enabled", cfg.Session.ArchiveEnabled)
	v.SetDefault("session.archive_dir", cfg.Session.ArchiveDir)

	v.SetDefault("knowledge.db_path", cfg.Knowledge.DBPath)
	v.SetDefault("knowledge.seed_file", cfg.Knowledge.SeedFile)
	v.SetDefault("knowledge.watch", cfg.Knowledge.Watch)
	v.SetDefault("knowledge.min_similarity", cfg.Knowledge.MinSimilarity)
	v.SetDefault("knowledge.default_limit", cfg.Knowledge.DefaultLimit)

	v.SetDefault("moderation.enabled", cfg.Moderation.Enabled)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)

	v.SetDefault("data_dir", cfg.DataDir)
}
