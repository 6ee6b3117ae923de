// Package agent runs the think/act loop that answers one multimodal query.
//
// Invariants:
// - A run moves THINK -> {ACT, ERROR, DONE}, ACT -> THINK, ERROR -> DONE.
// - THINK runs at most MaxIterations times per run.
// - Run returns an answer for every valid input; only *InputError is returned as an error.
// - Retries happen only inside ModelGateway; delays never decrease and never exceed MaxDelay.
// - Tool calls route through the ToolRegistry only; a lookup miss is answered directly.
//
// Usage:
//
//	provider, err := agent.NewProvider(cfg.Model)
//	gateway := agent.NewModelGateway(agent.GatewayConfig{Provider: provider, ProviderError: err, Model: cfg.Model.Name})
//	gateway.BindTools(tools.Specs())
//	orch, _ := agent.NewOrchestrator(agent.OrchestratorConfig{Model: gateway, Tools: tools})
//	answer, _ := orch.Run(ctx, nil, agent.Input{Text: "What is this temple?", Image: img})
//	_ = answer
package agent
