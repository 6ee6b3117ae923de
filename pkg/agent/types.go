package agent

import (
	"strings"

	"github.com/harun/aiguide/pkg/toolexecutor"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Attachment is an image sent with a message
type Attachment = toolexecutor.Attachment

// Input is one user query. At least one of Text or Image must be set.
type Input struct {
	Text  string      `json:"text,omitempty"`
	Image *Attachment `json:"-"`
}

// HasText reports whether the input carries non-blank text
func (in Input) HasText() bool {
	return strings.TrimSpace(in.Text) != ""
}

// HasImage reports whether the input carries image bytes
func (in Input) HasImage() bool {
	return in.Image != nil && len(in.Image.Data) > 0
}

// Message represents a message in the conversation
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Image      *Attachment `json:"-"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ContentBlock is one piece of a block-structured model response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NormalizedText returns the response text. Block responses are
// flattened by concatenating their text blocks in order.
func (r *LLMResponse) NormalizedText() string {
	if r == nil {
		return ""
	}
	if len(r.Blocks) == 0 {
		return r.Content
	}

	var b strings.Builder
	for _, block := range r.Blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
