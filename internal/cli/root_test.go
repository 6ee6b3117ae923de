package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig points the CLI at temp storage with tracing off
func writeTestConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("AIGUIDE_MODEL_API_KEY", "")
	t.Setenv("QWEN_API_KEY", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "aiguide.json")
	body := `{
  "data_dir": "` + filepath.ToSlash(dir) + `",
  "tracing": {"enabled": false},
  "session": {"archive_enabled": false},
  "logging": {"pretty": false}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})

	t.Cleanup(func() {
		cfgFile = ""
		askImage = ""
		searchMode = "auto"
		searchLimit = 0
	})

	err := cmd.Execute()
	return output.String(), err
}

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "aiguide version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "aiguide")
		assert.Contains(t, out, "travel guide")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		root := GetRootCmd()
		for _, name := range []string{"serve", "ask", "knowledge"} {
			assert.NotNil(t, findCommand(root, name), name)
		}
		knowledgeCmd := findCommand(root, "knowledge")
		require.NotNil(t, knowledgeCmd)
		assert.NotNil(t, findCommand(knowledgeCmd, "search"))
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestKnowledgeSearchCommand(t *testing.T) {
	t.Run("should print matching entries", func(t *testing.T) {
		cfg := writeTestConfig(t)

		out, err := execute(t, "--config", cfg, "knowledge", "search", "great", "wall", "--mode", "kg")
		require.NoError(t, err)
		assert.Contains(t, out, "Great Wall")
		assert.Contains(t, out, "knowledge graph")
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		cfg := writeTestConfig(t)

		_, err := execute(t, "--config", cfg, "knowledge", "search", "palace", "--mode", "fuzzy")
		assert.Error(t, err)
	})

	t.Run("should require a query", func(t *testing.T) {
		_, err := execute(t, "knowledge", "search")
		assert.Error(t, err)
	})
}

func TestAskCommand(t *testing.T) {
	t.Run("should require a question or image", func(t *testing.T) {
		_, err := execute(t, "ask")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a question or --image is required")
	})

	t.Run("should fail on a missing image", func(t *testing.T) {
		cfg := writeTestConfig(t)

		_, err := execute(t, "--config", cfg, "ask", "--image", filepath.Join(t.TempDir(), "none.png"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read image")
	})

	t.Run("should print the reply", func(t *testing.T) {
		cfg := writeTestConfig(t)

		out, err := execute(t, "--config", cfg, "ask", "What is the Great Wall?")
		require.NoError(t, err)
		assert.Contains(t, out, "unavailable")
	})
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("AIGUIDE_MODEL_API_KEY", "")
	t.Setenv("QWEN_API_KEY", "")
	path := filepath.Join(t.TempDir(), "aiguide.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": {"provider": "gemini"}}`), 0600))

	_, err := execute(t, "--config", path, "knowledge", "search", "palace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid model provider")
}
