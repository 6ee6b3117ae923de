package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, "qwen", cfg.Model.Provider)
		assert.Equal(t, 4*time.Hour, cfg.Session.IdleTimeout)
	})

	t.Run("load config from json file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "aiguide.json")

		testConfig := `{
			"server": {"port": 9090},
			"model": {"provider": "anthropic", "name": "claude-sonnet-4", "max_tokens": 2048},
			"session": {"idle_timeout": "30m", "proactive_min_interval": "1s", "proactive_max_interval": "2s"},
			"data_dir": "` + tmpDir + `"
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "anthropic", cfg.Model.Provider)
		assert.Equal(t, 2048, cfg.Model.MaxTokens)
		assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
		assert.Equal(t, time.Second, cfg.Session.ProactiveMinInterval)
		// untouched keys keep their defaults
		assert.Equal(t, 0.7, cfg.Model.Temperature)
		assert.Equal(t, time.Hour, cfg.Session.SweepInterval)
	})

	t.Run("load config from yaml file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "aiguide.yaml")

		testConfig := "server:\n  port: 7070\nagent:\n  max_iterations: 4\n"
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, 4, cfg.Agent.MaxIterations)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "aiguide.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`"}`), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "knowledge.db"), cfg.Knowledge.DBPath)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Session.ArchiveDir)
	})

	t.Run("api key from environment", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("QWEN_API_KEY", "sk-from-env")
		t.Setenv("AIGUIDE_DATA_DIR", tmpDir)

		cfg, err := NewLoader(filepath.Join(tmpDir, "missing.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
		assert.Equal(t, tmpDir, cfg.DataDir)
	})

	t.Run("invalid file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "aiguide.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoadConvenience(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("AIGUIDE_DATA_DIR", tmpDir)

	cfg, err := Load(filepath.Join(tmpDir, "none.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
