package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/aiguide/internal/observability"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxOutputBytes = 10 * 1024
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolSpec is the model-facing description of a registered tool
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolError is returned by Invoke when a tool cannot produce a result
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Config configures a ToolExecutor
type Config struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

// ToolExecutor is the name-keyed tool registry used by the orchestrator
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	specs   map[string]ToolSpec
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		specs:   make(map[string]ToolSpec),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// RegisterTool registers a tool, replacing any tool with the same name
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.specs[def.Name] = ToolSpec{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schemaMap,
	}

	te.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
	delete(te.specs, name)
}

// Lookup returns the tool registered under name. A miss is not an error.
func (te *ToolExecutor) Lookup(name string) (*ToolDefinition, bool) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	def, ok := te.tools[name]
	return def, ok
}

// ListTools returns registered tool names in sorted order
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()
	return len(te.tools)
}

// Specs returns the model-facing specs of every tool, sorted by name
func (te *ToolExecutor) Specs() []ToolSpec {
	te.mu.RLock()
	defer te.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(te.specs))
	for _, spec := range te.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke validates params and runs the tool with the executor timeout.
// The output is rendered as text and truncated to MaxOutputBytes.
func (te *ToolExecutor) Invoke(ctx context.Context, def *ToolDefinition, params map[string]interface{}) (string, error) {
	if def == nil {
		return "", &ToolError{Tool: "", Err: fmt.Errorf("tool definition is nil")}
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	startTime := time.Now()

	te.mu.RLock()
	schema := te.schemas[def.Name]
	te.mu.RUnlock()

	if err := validateParameters(schema, params); err != nil {
		observability.RecordToolExecution(def.Name, time.Since(startTime), false)
		te.logger.Warn().Str("tool", def.Name).Err(err).Msg("Parameter validation failed")
		return "", &ToolError{Tool: def.Name, Err: fmt.Errorf("parameter validation failed: %w", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := def.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(startTime)
		if out.err != nil {
			observability.RecordToolExecution(def.Name, duration, false)
			te.logger.Error().Str("tool", def.Name).Dur("duration", duration).Err(out.err).Msg("Tool execution failed")
			return "", &ToolError{Tool: def.Name, Err: out.err}
		}

		text, truncated := renderOutput(out.value)
		observability.RecordToolExecution(def.Name, duration, true)
		te.logger.Debug().
			Str("tool", def.Name).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return text, nil

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)
		observability.RecordToolExecution(def.Name, duration, false)
		te.logger.Error().Str("tool", def.Name).Dur("duration", duration).Msg("Tool execution timeout")
		if ctx.Err() != nil {
			return "", &ToolError{Tool: def.Name, Err: ctx.Err()}
		}
		return "", &ToolError{Tool: def.Name, Err: fmt.Errorf("tool execution timeout after %v", te.timeout)}
	}
}

// ValidToolName reports whether name can be registered or requested
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !ValidToolName(def.Name) {
		return fmt.Errorf("invalid tool name: %s", def.Name)
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

func buildSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func renderOutput(value interface{}) (string, bool) {
	var text string
	switch v := value.(type) {
	case nil:
		text = ""
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(data)
		}
	}

	if len(text) <= MaxOutputBytes {
		return text, false
	}
	cut := MaxOutputBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... [output truncated]", true
}
