package coretools

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/aiguide/pkg/knowledge"
	"github.com/harun/aiguide/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	query string
	mode  knowledge.Mode
	limit int
	out   []knowledge.Result
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, mode knowledge.Mode, limit int) ([]knowledge.Result, error) {
	f.query, f.mode, f.limit = query, mode, limit
	return f.out, f.err
}

type fakeDescriber struct {
	prompt string
	image  *toolexecutor.Attachment
	err    error
}

func (f *fakeDescriber) DescribeImage(ctx context.Context, image *toolexecutor.Attachment, prompt string) (string, error) {
	f.prompt, f.image = prompt, image
	if f.err != nil {
		return "", f.err
	}
	return "a red gate", nil
}

func newExecutor(t *testing.T, opts Options) *toolexecutor.ToolExecutor {
	t.Helper()
	exec := toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop()})
	require.NoError(t, RegisterCoreTools(exec, opts))
	return exec
}

func TestRegisterCoreTools(t *testing.T) {
	assert.Error(t, RegisterCoreTools(nil, Options{}))

	exec := newExecutor(t, Options{})
	assert.Equal(t, 0, exec.GetToolCount())

	exec = newExecutor(t, Options{Knowledge: &fakeSearcher{}, Describer: &fakeDescriber{}})
	assert.Equal(t, []string{ImageAnalyzerTool, KnowledgeSearchTool}, exec.ListTools())
}

func TestKnowledgeSearchTool(t *testing.T) {
	ctx := context.Background()

	t.Run("should format results", func(t *testing.T) {
		searcher := &fakeSearcher{out: []knowledge.Result{
			{Entry: knowledge.Entry{Title: "Great Wall overview", Content: "Long wall.", Source: knowledge.SourceKG}},
		}}
		exec := newExecutor(t, Options{Knowledge: searcher, DefaultLimit: 3})
		def, ok := exec.Lookup(KnowledgeSearchTool)
		require.True(t, ok)

		out, err := exec.Invoke(ctx, def, map[string]interface{}{"query": "长城", "mode": "kg"})
		require.NoError(t, err)
		assert.Contains(t, out, "1. Great Wall overview")
		assert.Equal(t, "长城", searcher.query)
		assert.Equal(t, knowledge.ModeKG, searcher.mode)
		assert.Equal(t, 3, searcher.limit)
	})

	t.Run("should pass an explicit limit and default mode", func(t *testing.T) {
		searcher := &fakeSearcher{}
		exec := newExecutor(t, Options{Knowledge: searcher})
		def, _ := exec.Lookup(KnowledgeSearchTool)

		out, err := exec.Invoke(ctx, def, map[string]interface{}{"query": "天坛", "limit": float64(2)})
		require.NoError(t, err)
		assert.Equal(t, knowledge.NoResultsMessage, out)
		assert.Equal(t, knowledge.ModeAuto, searcher.mode)
		assert.Equal(t, 2, searcher.limit)
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		exec := newExecutor(t, Options{Knowledge: &fakeSearcher{}})
		def, _ := exec.Lookup(KnowledgeSearchTool)

		_, err := exec.Invoke(ctx, def, map[string]interface{}{"query": "x", "mode": "web"})
		assert.Error(t, err)
	})

	t.Run("should surface search failures", func(t *testing.T) {
		exec := newExecutor(t, Options{Knowledge: &fakeSearcher{err: errors.New("db down")}})
		def, _ := exec.Lookup(KnowledgeSearchTool)

		_, err := exec.Invoke(ctx, def, map[string]interface{}{"query": "x"})
		var toolErr *toolexecutor.ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestImageAnalyzerTool(t *testing.T) {
	t.Run("should fail without an attached image", func(t *testing.T) {
		exec := newExecutor(t, Options{Describer: &fakeDescriber{}})
		def, _ := exec.Lookup(ImageAnalyzerTool)

		_, err := exec.Invoke(context.Background(), def, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no image")
	})

	t.Run("should describe the attached image", func(t *testing.T) {
		describer := &fakeDescriber{}
		exec := newExecutor(t, Options{Describer: describer})
		def, _ := exec.Lookup(ImageAnalyzerTool)

		att := &toolexecutor.Attachment{Data: []byte{0xff, 0xd8}, MimeType: "image/jpeg"}
		ctx := toolexecutor.WithAttachment(context.Background(), att)

		out, err := exec.Invoke(ctx, def, map[string]interface{}{"focus": "roof"})
		require.NoError(t, err)
		assert.Equal(t, "a red gate", out)
		assert.Equal(t, att, describer.image)
		assert.Contains(t, describer.prompt, "roof")
	})
}
