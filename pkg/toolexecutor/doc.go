// Package toolexecutor registers and invokes the structured tools the agent may call.
//
// Invariants:
// - Tool names are unique; registering a name again replaces the tool.
// - Lookup misses are reported with ok=false, never as errors.
// - Parameters are schema-validated before the handler runs.
// - Every invocation failure is a *ToolError.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{Logger: logger})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	if def, ok := exec.Lookup("echo"); ok {
//		out, _ := exec.Invoke(ctx, def, map[string]interface{}{"text": "hi"})
//		_ = out
//	}
package toolexecutor
