package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/pkg/toolexecutor"
)

// DefaultDashScopeBaseURL is the OpenAI-compatible endpoint for Qwen models
const DefaultDashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []toolexecutor.ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM. Providers fill either
// Content or Blocks.
type LLMResponse struct {
	Content   string
	Blocks    []ContentBlock
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewProvider creates the provider selected by cfg.Provider.
// Failures are *ModelError values of kind missing credential or init failure.
func NewProvider(cfg config.ModelConfig) (LLMProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch provider {
	case "qwen", "dashscope", "openai", "anthropic":
	default:
		return nil, newModelError(KindInitFailure, 0, fmt.Errorf("unsupported provider: %s", cfg.Provider))
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, newModelError(KindMissingCredential, 0, errors.New("no API key configured for provider "+provider))
	}

	switch provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider("openai", cfg.APIKey, cfg.BaseURL), nil
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultDashScopeBaseURL
		}
		return NewOpenAIProvider(provider, cfg.APIKey, baseURL), nil
	}
}
