package agent

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/harun/aiguide/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Text markers understood in model output
const (
	ToolCallMarker    = "TOOL_CALL:"
	FinalAnswerMarker = "FINAL_ANSWER:"
	NoResponseMarker  = "NO_RESPONSE"
)

// DecisionKind is what the model asked the orchestrator to do next
type DecisionKind int

const (
	DecisionAnswer DecisionKind = iota
	DecisionToolCall
	DecisionIgnore
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionToolCall:
		return "tool_call"
	case DecisionIgnore:
		return "ignore"
	default:
		return "answer"
	}
}

// Decision is the canonical reading of one model response
type Decision struct {
	Kind     DecisionKind
	Text     string
	ToolCall *ToolCall

	// Final is set when the answer came from the FINAL_ANSWER directive
	Final bool

	// Structured is set when the tool call came from the provider's
	// native tool calling rather than a text directive
	Structured bool
}

// Decide turns normalized response text and native tool calls into a Decision.
func Decide(text string, toolCalls []ToolCall) Decision {
	if len(toolCalls) > 0 {
		call := toolCalls[0]
		if call.Parameters == nil {
			call.Parameters = map[string]interface{}{}
		}
		return Decision{Kind: DecisionToolCall, ToolCall: &call, Structured: true}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == NoResponseMarker {
		return Decision{Kind: DecisionIgnore}
	}

	if call, ok := parseToolDirective(trimmed); ok {
		return Decision{Kind: DecisionToolCall, Text: trimmed, ToolCall: call}
	}

	if idx := strings.Index(trimmed, FinalAnswerMarker); idx >= 0 {
		answer := strings.TrimSpace(trimmed[idx+len(FinalAnswerMarker):])
		if answer != "" {
			return Decision{Kind: DecisionAnswer, Text: answer, Final: true}
		}
	}

	return Decision{Kind: DecisionAnswer, Text: trimmed}
}

// parseToolDirective finds the first well-formed
// "TOOL_CALL: <name> <json-object?>" line.
func parseToolDirective(text string) (*ToolCall, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, ToolCallMarker) {
			continue
		}

		rest := strings.TrimSpace(strings.TrimPrefix(line, ToolCallMarker))
		name, rawArgs := rest, ""
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			name, rawArgs = rest[:i], strings.TrimSpace(rest[i:])
		}

		if !toolexecutor.ValidToolName(name) {
			continue
		}

		args := map[string]interface{}{}
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || args == nil {
				continue
			}
		}

		return &ToolCall{ID: newDirectiveID(), Name: name, Parameters: args}, true
	}
	return nil, false
}

func newDirectiveID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return "directive"
	}
	return "directive_" + id
}
