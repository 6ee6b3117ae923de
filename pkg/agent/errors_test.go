package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/harun/aiguide/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"net timeout", timeoutErr{}, true},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"overloaded", errors.New("server overloaded"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"bad gateway", errors.New("502 bad gateway"), true},
		{"bad request", errors.New("400 invalid image"), false},
		{"unauthorized", errors.New("401 unauthorized"), false},
		{"model error", newModelError(KindInvocationFailure, 1, errors.New("503")), false},
	}

	for _, tc := range cases {
		t.Run("should classify "+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableError(tc.err))
		})
	}
}

func TestModelError(t *testing.T) {
	t.Run("should map kinds to codes", func(t *testing.T) {
		assert.Equal(t, "MODEL_002", KindMissingDependency.Code())
		assert.Equal(t, "MODEL_003", KindMissingCredential.Code())
		assert.Equal(t, "MODEL_004", KindInitFailure.Code())
		assert.Equal(t, "MODEL_006", KindInvocationFailure.Code())
	})

	t.Run("should format and unwrap", func(t *testing.T) {
		inner := errors.New("boom")
		err := newModelError(KindInvocationFailure, 3, inner)

		assert.ErrorIs(t, err, inner)
		assert.Contains(t, err.Error(), "MODEL_006")
		assert.Contains(t, err.Error(), "after 3 attempt(s)")
		assert.Contains(t, err.Error(), "(ref "+err.CorrelationID+")")
	})

	t.Run("should give each error its own correlation id", func(t *testing.T) {
		a := newModelError(KindInitFailure, 0, nil)
		b := newModelError(KindInitFailure, 0, nil)
		assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
	})
}

func TestInputError(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewInputError("missing %s", "query"))
	assert.True(t, IsInputError(err))
	assert.Contains(t, err.Error(), "invalid input: missing query")
	assert.False(t, IsInputError(errors.New("other")))
}

func TestNewProvider(t *testing.T) {
	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := NewProvider(config.ModelConfig{Provider: "gemini", APIKey: "k"})
		var modelErr *ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, KindInitFailure, modelErr.Kind)
	})

	t.Run("should require an API key", func(t *testing.T) {
		_, err := NewProvider(config.ModelConfig{Provider: "openai"})
		var modelErr *ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, KindMissingCredential, modelErr.Kind)
	})

	t.Run("should build each supported provider", func(t *testing.T) {
		for name, want := range map[string]string{
			"qwen":      "qwen",
			"DashScope": "dashscope",
			"openai":    "openai",
			"anthropic": "anthropic",
		} {
			provider, err := NewProvider(config.ModelConfig{Provider: name, APIKey: "test-key"})
			require.NoError(t, err, name)
			assert.Equal(t, want, provider.Provider(), name)
		}
	})
}
