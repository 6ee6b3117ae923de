package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/aiguide/pkg/knowledge"
	"github.com/harun/aiguide/pkg/toolexecutor"
)

const (
	KnowledgeSearchTool = "knowledge_search"
	ImageAnalyzerTool   = "image_analyzer"
)

const imageAnalysisPrompt = `Analyze this image in detail. Describe the main content, name any landmarks, buildings or objects you recognise, transcribe any visible text, and describe the style and atmosphere. Answer in plain prose without headings.`

// KnowledgeSearcher looks up guide knowledge
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, mode knowledge.Mode, limit int) ([]knowledge.Result, error)
}

// ImageDescriber turns an image into text using a multimodal model
type ImageDescriber interface {
	DescribeImage(ctx context.Context, image *toolexecutor.Attachment, prompt string) (string, error)
}

// Options configures core tool registration. Tools whose dependency
// is nil are not registered.
type Options struct {
	Knowledge    KnowledgeSearcher
	Describer    ImageDescriber
	DefaultLimit int
}

// RegisterCoreTools registers the guide's knowledge and image tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}

	var tools []toolexecutor.ToolDefinition
	if opts.Knowledge != nil {
		tools = append(tools, knowledgeSearchTool(opts))
	}
	if opts.Describer != nil {
		tools = append(tools, imageAnalyzerTool(opts))
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func knowledgeSearchTool(opts Options) toolexecutor.ToolDefinition {
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = knowledge.DefaultLimit
	}

	return toolexecutor.ToolDefinition{
		Name:        KnowledgeSearchTool,
		Description: "Search landmark and travel knowledge. Use it for facts about places the user asks about or sees.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "What to look up", Required: true},
			{
				Name:        "mode",
				Type:        "string",
				Description: "kg for the knowledge graph, vector for the knowledge base, auto for both",
				Enum:        []string{string(knowledge.ModeAuto), string(knowledge.ModeKG), string(knowledge.ModeVector)},
				Default:     string(knowledge.ModeAuto),
			},
			{Name: "limit", Type: "integer", Description: "Maximum number of results", Default: defaultLimit},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("query cannot be empty")
			}

			modeStr, _ := params["mode"].(string)
			mode, err := knowledge.ParseMode(modeStr)
			if err != nil {
				return nil, err
			}

			limit := defaultLimit
			if v, ok := numberParam(params["limit"]); ok && v > 0 {
				limit = v
			}

			results, err := opts.Knowledge.Search(ctx, query, mode, limit)
			if err != nil {
				return nil, fmt.Errorf("knowledge search failed: %w", err)
			}
			return knowledge.Format(results), nil
		},
	}
}

func imageAnalyzerTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        ImageAnalyzerTool,
		Description: "Describe the image the user attached to the current message.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "focus", Type: "string", Description: "Optional aspect of the image to concentrate on"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			image, ok := toolexecutor.AttachmentFromContext(ctx)
			if !ok {
				return nil, fmt.Errorf("no image attached to the current message")
			}

			prompt := imageAnalysisPrompt
			if focus, _ := params["focus"].(string); strings.TrimSpace(focus) != "" {
				prompt += " Pay particular attention to: " + strings.TrimSpace(focus) + "."
			}

			description, err := opts.Describer.DescribeImage(ctx, image, prompt)
			if err != nil {
				return nil, fmt.Errorf("image analysis failed: %w", err)
			}
			return description, nil
		},
	}
}

func numberParam(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
