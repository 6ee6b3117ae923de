package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    int
	requests []LLMRequest
	respond  func(call int, req LLMRequest) (*LLMResponse, error)
}

func (p *stubProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.respond(call, req)
}

func (p *stubProvider) Provider() string { return "stub" }

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

func TestModelGatewayRetries(t *testing.T) {
	t.Run("should retry transient failures exactly twice", func(t *testing.T) {
		provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
			if call <= 2 {
				return nil, errors.New("503 service unavailable")
			}
			return &LLMResponse{Content: "ok"}, nil
		}}

		var events []RetryEvent
		gateway := NewModelGateway(GatewayConfig{
			Provider: provider,
			Model:    "test-model",
			Retry:    fastRetry(),
			OnRetry:  func(e RetryEvent) { events = append(events, e) },
			Logger:   zerolog.Nop(),
		})

		resp, err := gateway.Invoke(context.Background(), "system", []Message{{Role: RoleUser, Content: "hi"}})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, 3, provider.calls)

		require.Len(t, events, 2)
		assert.LessOrEqual(t, events[0].Delay, events[1].Delay)
		for _, e := range events {
			assert.LessOrEqual(t, e.Delay, 4*time.Millisecond)
			assert.Greater(t, e.Delay, time.Duration(0))
		}
	})

	t.Run("should give up after max retries with a model error", func(t *testing.T) {
		provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
			return nil, errors.New("429 rate limit")
		}}
		gateway := NewModelGateway(GatewayConfig{Provider: provider, Retry: fastRetry(), Logger: zerolog.Nop()})

		_, err := gateway.Invoke(context.Background(), "", nil)
		var modelErr *ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, KindInvocationFailure, modelErr.Kind)
		assert.Equal(t, "MODEL_006", modelErr.Code)
		assert.Equal(t, 4, modelErr.Attempts)
		assert.NotEmpty(t, modelErr.CorrelationID)
		assert.Equal(t, 4, provider.calls)
	})

	t.Run("should not retry permanent failures", func(t *testing.T) {
		provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
			return nil, errors.New("400 invalid request")
		}}
		gateway := NewModelGateway(GatewayConfig{Provider: provider, Retry: fastRetry(), Logger: zerolog.Nop()})

		_, err := gateway.Invoke(context.Background(), "", nil)
		var modelErr *ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, 1, modelErr.Attempts)
		assert.Equal(t, 1, provider.calls)
		assert.Contains(t, err.Error(), "400 invalid request")
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
			cancel()
			return nil, errors.New("503 service unavailable")
		}}
		gateway := NewModelGateway(GatewayConfig{Provider: provider, Retry: fastRetry(), Logger: zerolog.Nop()})

		_, err := gateway.Invoke(ctx, "", nil)
		require.Error(t, err)
		assert.Equal(t, 1, provider.calls)
	})

	t.Run("should time out individual attempts", func(t *testing.T) {
		provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
			if call == 1 {
				time.Sleep(30 * time.Millisecond)
				return nil, context.DeadlineExceeded
			}
			return &LLMResponse{Content: "second"}, nil
		}}
		gateway := NewModelGateway(GatewayConfig{
			Provider:       provider,
			Retry:          fastRetry(),
			AttemptTimeout: 10 * time.Millisecond,
			Logger:         zerolog.Nop(),
		})

		resp, err := gateway.Invoke(context.Background(), "", nil)
		require.NoError(t, err)
		assert.Equal(t, "second", resp.Content)
	})
}

func TestModelGatewayUnavailable(t *testing.T) {
	t.Run("should report a missing provider", func(t *testing.T) {
		gateway := NewModelGateway(GatewayConfig{Logger: zerolog.Nop()})
		_, err := gateway.Invoke(context.Background(), "", nil)

		var modelErr *ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, KindMissingDependency, modelErr.Kind)
		assert.Equal(t, "MODEL_002", modelErr.Code)
	})

	t.Run("should report the provider construction error", func(t *testing.T) {
		provider, providerErr := NewProvider(config.ModelConfig{Provider: "qwen", Name: "qwen-vl-max"})
		require.Error(t, providerErr)

		gateway := NewModelGateway(GatewayConfig{Provider: provider, ProviderError: providerErr, Logger: zerolog.Nop()})
		_, err := gateway.Invoke(context.Background(), "", nil)

		var modelErr *ModelError
		require.ErrorAs(t, err, &modelErr)
		assert.Equal(t, KindMissingCredential, modelErr.Kind)
		assert.Equal(t, "MODEL_003", modelErr.Code)
	})
}

func TestModelGatewayTools(t *testing.T) {
	provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
		return &LLMResponse{Content: "ok"}, nil
	}}
	gateway := NewModelGateway(GatewayConfig{Provider: provider, Model: "m", MaxTokens: 64, Logger: zerolog.Nop()})

	specs := []toolexecutor.ToolSpec{{Name: "a"}, {Name: "b"}}
	gateway.BindTools(specs)
	gateway.BindTools(specs)
	assert.Len(t, gateway.BoundTools(), 2)

	specs[0].Name = "mutated"
	assert.Equal(t, "a", gateway.BoundTools()[0].Name)

	gateway.BindTools([]toolexecutor.ToolSpec{{Name: "c"}})
	require.Len(t, gateway.BoundTools(), 1)

	_, err := gateway.Invoke(context.Background(), "sys", []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	req := provider.requests[0]
	assert.Equal(t, "sys", req.SystemPrompt)
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "c", req.Tools[0].Name)
}

func TestDescribeImage(t *testing.T) {
	provider := &stubProvider{respond: func(call int, req LLMRequest) (*LLMResponse, error) {
		return &LLMResponse{Blocks: []ContentBlock{{Type: "text", Text: " a pagoda "}}}, nil
	}}
	gateway := NewModelGateway(GatewayConfig{Provider: provider, Logger: zerolog.Nop()})
	gateway.BindTools([]toolexecutor.ToolSpec{{Name: "knowledge_search"}})

	_, err := gateway.DescribeImage(context.Background(), nil, "describe")
	assert.Error(t, err)

	img := &Attachment{Data: []byte{1}, MimeType: "image/png"}
	text, err := gateway.DescribeImage(context.Background(), img, "describe")
	require.NoError(t, err)
	assert.Equal(t, "a pagoda", text)

	req := provider.requests[0]
	assert.Empty(t, req.Tools)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, img, req.Messages[0].Image)
	assert.Equal(t, "describe", req.Messages[0].Content)
}

func TestJitterBackOff(t *testing.T) {
	t.Run("should grow exponentially up to the cap", func(t *testing.T) {
		b := newJitterBackOff(RetryPolicy{
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   time.Second,
			Multiplier: 2,
			Jitter:     0.5,
		}, func() float64 { return 0 })

		var got []time.Duration
		for i := 0; i < 6; i++ {
			got = append(got, b.NextBackOff())
		}
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			time.Second,
			time.Second,
		}, got)

		b.Reset()
		assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	})

	t.Run("should never decrease", func(t *testing.T) {
		rolls := []float64{0.99, 0, 0}
		i := 0
		b := newJitterBackOff(RetryPolicy{
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   time.Second,
			Multiplier: 1,
			Jitter:     0.5,
		}, func() float64 { r := rolls[i]; i++; return r })

		first := b.NextBackOff()
		assert.Greater(t, first, 100*time.Millisecond)
		assert.Equal(t, first, b.NextBackOff())
		assert.Equal(t, first, b.NextBackOff())
	})
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.RetryConfig{MaxRetries: 2})
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)

	p = RetryPolicyFromConfig(config.RetryConfig{MaxRetries: -1, BaseDelay: 5 * time.Second, MaxDelay: time.Second})
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 5*time.Second, p.MaxDelay)
}
