package config

import (
	"errors"
	"fmt"
	"strings"
)

var validProviders = []string{"qwen", "dashscope", "openai", "anthropic"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a model provider name
func (v *Validator) ValidateProvider(provider string) error {
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid model provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil // Missing credentials degrade replies instead of blocking startup
	}

	if provider == "anthropic" && !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive"))
	}

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Model.Name) == "" {
		errs = append(errs, fmt.Errorf("model.name cannot be empty"))
	}
	if err := v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
		errs = append(errs, err)
	}

	retry := cfg.Model.Retry
	if retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("model.retry.max_retries must be >= 0"))
	}
	if retry.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("model.retry.base_delay must be positive"))
	}
	if retry.MaxDelay < retry.BaseDelay {
		errs = append(errs, fmt.Errorf("model.retry.max_delay must be >= base_delay"))
	}
	if retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("model.retry.multiplier must be >= 1"))
	}
	if retry.Jitter < 0 {
		errs = append(errs, fmt.Errorf("model.retry.jitter must be >= 0"))
	}

	if cfg.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive"))
	}

	s := cfg.Session
	if s.SweepInterval < 0 || s.IdleTimeout <= 0 || s.CleanupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session intervals must be positive"))
	}
	if s.ProactiveEnabled {
		if s.ProactiveMinInterval <= 0 {
			errs = append(errs, fmt.Errorf("session.proactive_min_interval must be positive"))
		}
		if s.ProactiveMaxInterval < s.ProactiveMinInterval {
			errs = append(errs, fmt.Errorf("session.proactive_max_interval must be >= proactive_min_interval"))
		}
	}

	if cfg.Knowledge.MinSimilarity < 0 || cfg.Knowledge.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("knowledge.min_similarity must be between 0 and 1"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Tracing.Enabled && (cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1) {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio))
	}

	return errs
}

// Validate runs ValidateConfig and joins the findings into one error
func (v *Validator) Validate(cfg *Config) error {
	return errors.Join(v.ValidateConfig(cfg)...)
}
