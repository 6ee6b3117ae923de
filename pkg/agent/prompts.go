package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/aiguide/pkg/toolexecutor"
)

const (
	// DefaultImagePrompt stands in for the text of an image-only query
	DefaultImagePrompt = "Please describe what you see in this image."

	// FallbackApology is used when even error handling fails
	FallbackApology = "Sorry, something went wrong while handling your request. Please try again later."

	issueModelUnavailable = "the language model is unavailable right now"
	issueTooManySteps     = "too many reasoning steps"
)

// DefaultSystemPrompt frames the model as a tour guide
const DefaultSystemPrompt = `You are an AR tour guide assistant. The user is travelling and may send a photo of what they are looking at, a question, or both.
Identify landmarks, buildings and objects in photos, explain their history and cultural background, and suggest what to see or do nearby.
Keep answers friendly, accurate and concise. If you are unsure, say so rather than inventing facts.`

const directiveInstructions = `
When you need a tool and cannot call it natively, reply with a single line:
TOOL_CALL: <tool_name> <JSON object of arguments>
When you have the final answer, reply with:
FINAL_ANSWER: <your answer>
If the message needs no reply at all, reply with exactly NO_RESPONSE.`

func errorAnswer(issues []string) string {
	return fmt.Sprintf("Sorry, I could not complete your request: %s.", strings.Join(issues, "; "))
}

func unsupportedToolResult(name string) string {
	return fmt.Sprintf("Tool %q is not supported; answering directly instead.", name)
}

func directiveToolResult(name, result string) string {
	return fmt.Sprintf("Tool result (%s): %s", name, result)
}

// buildSystemPrompt appends the tool catalogue and the text directive
// protocol to the base prompt.
func buildSystemPrompt(base string, specs []toolexecutor.ToolSpec) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)

	if len(specs) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, spec := range specs {
			params, err := json.Marshal(spec.InputSchema["properties"])
			if err != nil {
				params = []byte("{}")
			}
			fmt.Fprintf(&b, "- %s: %s Parameters: %s\n", spec.Name, spec.Description, params)
		}
	}

	b.WriteString(directiveInstructions)
	return b.String()
}
