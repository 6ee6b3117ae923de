package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/aiguide/internal/observability"
	"github.com/harun/aiguide/internal/tracing"
	"github.com/harun/aiguide/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxIterations bounds THINK cycles per run
const DefaultMaxIterations = 8

// Model is the part of ModelGateway the orchestrator depends on
type Model interface {
	Invoke(ctx context.Context, system string, messages []Message) (*LLMResponse, error)
}

// ToolRegistry resolves and runs tools by name
type ToolRegistry interface {
	Lookup(name string) (*toolexecutor.ToolDefinition, bool)
	Invoke(ctx context.Context, def *toolexecutor.ToolDefinition, params map[string]interface{}) (string, error)
	Specs() []toolexecutor.ToolSpec
}

// Moderator screens prompts and responses
type Moderator interface {
	CheckPrompt(prompt string) error
	CheckResponse(response string) error
}

// OrchestratorConfig configures an Orchestrator
type OrchestratorConfig struct {
	Model         Model
	Tools         ToolRegistry // Optional, every tool is unsupported when nil
	Moderator     Moderator    // Optional
	SystemPrompt  string
	MaxIterations int
	Logger        zerolog.Logger
}

// Orchestrator runs the bounded think/act loop for one query
type Orchestrator struct {
	model         Model
	tools         ToolRegistry
	moderator     Moderator
	systemPrompt  string
	maxIterations int
	logger        zerolog.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	return &Orchestrator{
		model:         cfg.Model,
		tools:         cfg.Tools,
		moderator:     cfg.Moderator,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger,
	}, nil
}

// Run answers input given the prior conversation. The only error is
// *InputError; every other failure becomes an apology in the answer.
func (o *Orchestrator) Run(ctx context.Context, history []Message, input Input) (answer string, err error) {
	if !input.HasText() && !input.HasImage() {
		return "", NewInputError("a text query or an image is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = tracing.NewRunContext(ctx)
	ctx, span := tracing.StartSpan(
		ctx,
		"aiguide.agent",
		"agent.run",
		attribute.Bool("has_text", input.HasText()),
		attribute.Bool("has_image", input.HasImage()),
		attribute.Int("history", len(history)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)
	start := time.Now()

	rs := newRunState(history, input)
	ctx = toolexecutor.WithAttachment(ctx, input.Image)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Agent run panicked")
			answer, err = FallbackApology, nil
			rs.Issues = append(rs.Issues, "internal error")
		}

		status := "answered"
		switch {
		case len(rs.Issues) > 0:
			status = "error"
			span.SetStatus(codes.Error, "run finished with issues")
		case answer == "":
			status = "ignored"
		}
		observability.RecordAgentRun(status, time.Since(start), rs.Iterations)
		span.SetAttributes(attribute.String("status", status), attribute.Int("iterations", rs.Iterations))
		logger.Info().
			Str("status", status).
			Int("iterations", rs.Iterations).
			Int("issues", len(rs.Issues)).
			Dur("duration", time.Since(start)).
			Msg("Agent run finished")
	}()

	if o.moderator != nil {
		if modErr := o.moderator.CheckPrompt(input.Text); modErr != nil {
			logger.Warn().Err(modErr).Msg("Prompt blocked by moderation")
			rs.addIssue("the request was blocked by content moderation")
			rs.State = StateError
		}
	}

	var specs []toolexecutor.ToolSpec
	if o.tools != nil {
		specs = o.tools.Specs()
	}
	systemPrompt := buildSystemPrompt(o.systemPrompt, specs)

	for rs.State != StateDone {
		o.step(ctx, logger, systemPrompt, rs)
	}

	return rs.answer(), nil
}

// step runs a single state and recovers panics into the ERROR state.
func (o *Orchestrator) step(ctx context.Context, logger zerolog.Logger, systemPrompt string, rs *RunState) {
	current := rs.State
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Error().Interface("panic", r).Str("state", current.String()).Msg("Agent step panicked")
		if current == StateError {
			rs.finish(FallbackApology)
			return
		}
		rs.addIssue(fmt.Sprintf("internal error during %s", current))
		rs.Pending = nil
		rs.State = StateError
	}()

	switch rs.State {
	case StateThink:
		o.think(ctx, logger, systemPrompt, rs)
	case StateAct:
		o.act(ctx, logger, rs)
	case StateError:
		rs.finish(errorAnswer(rs.Issues))
	default:
		rs.State = StateDone
	}
}

func (o *Orchestrator) think(ctx context.Context, logger zerolog.Logger, systemPrompt string, rs *RunState) {
	if rs.Iterations >= o.maxIterations {
		logger.Warn().Int("max_iterations", o.maxIterations).Msg("Iteration cap reached")
		rs.addIssue(issueTooManySteps)
		rs.State = StateError
		return
	}
	rs.Iterations++

	ctx, span := tracing.StartSpan(ctx, "aiguide.agent", "agent.think", attribute.Int("iteration", rs.Iterations))
	defer span.End()

	if err := ctx.Err(); err != nil {
		rs.addIssue("the request was cancelled")
		rs.State = StateError
		return
	}

	resp, err := o.model.Invoke(ctx, systemPrompt, rs.Messages)
	if err != nil {
		tracing.RecordError(span, err)
		var modelErr *ModelError
		if errors.As(err, &modelErr) {
			rs.addIssue(fmt.Sprintf("%s (ref %s)", issueModelUnavailable, modelErr.CorrelationID))
		} else {
			logger.Error().Err(err).Msg("Model invocation failed")
			rs.addIssue(issueModelUnavailable)
		}
		rs.State = StateError
		return
	}

	text := resp.NormalizedText()
	decision := Decide(text, resp.ToolCalls)

	assistant := Message{Role: RoleAssistant, Content: text}
	if decision.Structured {
		assistant.ToolCalls = []ToolCall{*decision.ToolCall}
	}
	rs.Messages = append(rs.Messages, assistant)

	if o.moderator != nil && text != "" {
		if modErr := o.moderator.CheckResponse(text); modErr != nil {
			logger.Warn().Err(modErr).Msg("Response blocked by moderation")
			rs.addIssue("the response was blocked by content moderation")
		}
	}

	span.SetAttributes(attribute.String("decision", decision.Kind.String()))
	logger.Debug().
		Int("iteration", rs.Iterations).
		Str("decision", decision.Kind.String()).
		Bool("final", decision.Final).
		Msg("Model decision")

	switch {
	case len(rs.Issues) > 0:
		rs.State = StateError
	case decision.Kind == DecisionIgnore:
		rs.finish("")
	case decision.Kind == DecisionToolCall:
		inv := &ToolInvocation{
			Name:      decision.ToolCall.Name,
			Arguments: decision.ToolCall.Parameters,
			Status:    ToolPending,
		}
		if decision.Structured {
			inv.CallID = decision.ToolCall.ID
		}
		rs.Pending = inv
		rs.State = StateAct
	default:
		rs.finish(decision.Text)
	}
}

func (o *Orchestrator) act(ctx context.Context, logger zerolog.Logger, rs *RunState) {
	inv := rs.Pending
	rs.Pending = nil
	rs.State = StateThink
	if inv == nil {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "aiguide.agent", "agent.act", attribute.String("tool", inv.Name))
	defer span.End()
	logger = logger.With().Str("tool", inv.Name).Logger()

	var def *toolexecutor.ToolDefinition
	found := false
	if o.tools != nil {
		def, found = o.tools.Lookup(inv.Name)
	}

	if !found {
		logger.Info().Msg("Model requested an unsupported tool")
		inv.Status = ToolUnsupported
		inv.Result = unsupportedToolResult(inv.Name)
	} else {
		result, err := o.tools.Invoke(ctx, def, inv.Arguments)
		if err != nil {
			tracing.RecordError(span, err)
			logger.Warn().Err(err).Msg("Tool failed")
			msg := err.Error()
			var toolErr *toolexecutor.ToolError
			if errors.As(err, &toolErr) && toolErr.Err != nil {
				msg = toolErr.Err.Error()
			}
			rs.addIssue(fmt.Sprintf("tool %s failed: %s", inv.Name, msg))
			inv.Status = ToolFailed
			inv.Result = "Tool failed: " + msg
		} else {
			inv.Status = ToolSuccess
			inv.Result = result
		}
	}

	span.SetAttributes(attribute.String("status", string(inv.Status)))
	rs.Messages = append(rs.Messages, toolResultMessage(inv))
}

func toolResultMessage(inv *ToolInvocation) Message {
	if inv.CallID != "" {
		return Message{Role: RoleTool, Content: inv.Result, ToolCallID: inv.CallID}
	}
	return Message{Role: RoleUser, Content: directiveToolResult(inv.Name, inv.Result)}
}
