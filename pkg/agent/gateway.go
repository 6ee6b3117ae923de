package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/internal/tracing"
	"github.com/harun/aiguide/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RetryEvent describes one scheduled retry
type RetryEvent struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// GatewayConfig configures a ModelGateway
type GatewayConfig struct {
	Provider       LLMProvider
	ProviderError  error // reported on every call when Provider is nil
	Model          string
	Temperature    float64
	MaxTokens      int
	Retry          RetryPolicy
	AttemptTimeout time.Duration
	OnRetry        func(RetryEvent)
	Logger         zerolog.Logger

	// random source for jitter, defaults to math/rand
	Rand func() float64
}

// ModelGateway sends conversations to the model provider with retries
type ModelGateway struct {
	cfg GatewayConfig

	mu    sync.RWMutex
	tools []toolexecutor.ToolSpec
}

// NewModelGateway creates a new ModelGateway
func NewModelGateway(cfg GatewayConfig) *ModelGateway {
	observability.EnsureRegistered()
	cfg.Retry = cfg.Retry.withDefaults()
	return &ModelGateway{cfg: cfg}
}

// BindTools replaces the set of tools offered to the model
func (g *ModelGateway) BindTools(specs []toolexecutor.ToolSpec) {
	bound := make([]toolexecutor.ToolSpec, len(specs))
	copy(bound, specs)

	g.mu.Lock()
	g.tools = bound
	g.mu.Unlock()
}

// BoundTools returns a copy of the bound tool specs
func (g *ModelGateway) BoundTools() []toolexecutor.ToolSpec {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]toolexecutor.ToolSpec, len(g.tools))
	copy(out, g.tools)
	return out
}

// Invoke sends the conversation with the bound tools
func (g *ModelGateway) Invoke(ctx context.Context, system string, messages []Message) (*LLMResponse, error) {
	return g.call(ctx, "model.invoke", LLMRequest{
		Model:        g.cfg.Model,
		Messages:     messages,
		Tools:        g.BoundTools(),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
		SystemPrompt: system,
	})
}

// DescribeImage asks the model to describe an image without offering tools
func (g *ModelGateway) DescribeImage(ctx context.Context, image *Attachment, prompt string) (string, error) {
	if image == nil || len(image.Data) == 0 {
		return "", errors.New("image is required")
	}

	resp, err := g.call(ctx, "model.describe_image", LLMRequest{
		Model:       g.cfg.Model,
		Messages:    []Message{{Role: RoleUser, Content: prompt, Image: image}},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		SystemPrompt: "You are a professional image analysis assistant. " +
			"Describe images accurately and in detail.",
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.NormalizedText())
	if text == "" {
		return "", errors.New("model returned an empty description")
	}
	return text, nil
}

func (g *ModelGateway) call(ctx context.Context, spanName string, request LLMRequest) (*LLMResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"aiguide.agent",
		spanName,
		attribute.String("model", request.Model),
		attribute.Int("messages", len(request.Messages)),
		attribute.Int("tools", len(request.Tools)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, g.cfg.Logger)

	if g.cfg.Provider == nil {
		modelErr := g.unavailableError()
		logger.Error().
			Str("code", modelErr.Code).
			Str("correlation_id", modelErr.CorrelationID).
			Err(modelErr.Err).
			Msg("Model provider unavailable")
		span.RecordError(modelErr)
		span.SetStatus(codes.Error, modelErr.Code)
		return nil, modelErr
	}

	attempts := 0
	var response *LLMResponse

	operation := func() error {
		attempts++
		attemptCtx := ctx
		if g.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := g.cfg.Provider.Call(attemptCtx, request)
		observability.RecordModelInvocation(time.Since(start), err == nil)
		if err == nil {
			if resp == nil {
				resp = &LLMResponse{}
			}
			response = resp
			return nil
		}

		if ctx.Err() != nil || !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		observability.RecordModelRetry()
		logger.Warn().
			Int("attempt", attempts).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")
		if g.cfg.OnRetry != nil {
			g.cfg.OnRetry(RetryEvent{Attempt: attempts, Delay: delay, Err: err})
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newJitterBackOff(g.cfg.Retry, g.cfg.Rand), uint64(g.cfg.Retry.MaxRetries)),
		ctx,
	)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		modelErr := newModelError(KindInvocationFailure, attempts, err)
		logger.Error().
			Str("provider", g.cfg.Provider.Provider()).
			Str("code", modelErr.Code).
			Str("correlation_id", modelErr.CorrelationID).
			Int("attempts", attempts).
			Err(err).
			Msg("Model call failed")
		span.RecordError(modelErr)
		span.SetStatus(codes.Error, modelErr.Code)
		return nil, modelErr
	}

	span.SetAttributes(attribute.Int("attempts", attempts))
	logger.Debug().Int("attempts", attempts).Msg("Model call succeeded")
	return response, nil
}

func (g *ModelGateway) unavailableError() *ModelError {
	var initErr *ModelError
	if errors.As(g.cfg.ProviderError, &initErr) {
		return newModelError(initErr.Kind, 0, initErr.Err)
	}
	if g.cfg.ProviderError != nil {
		return newModelError(KindInitFailure, 0, g.cfg.ProviderError)
	}
	return newModelError(KindMissingDependency, 0, fmt.Errorf("no model provider configured"))
}
