package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "world_", cfg.Storage.WorldPrefix)
	assert.Equal(t, "vectors", cfg.Memory.Collection)
	assert.Equal(t, "vector", cfg.Memory.VectorField)
	assert.Equal(t, 30*time.Second, cfg.Memory.EmbedTimeout)
	assert.Equal(t, "Qwen/Qwen3-Embedding-4B", cfg.Embedding.Model)
	assert.False(t, cfg.Groups.DropEmpty)
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3000world.yaml")
	content := `
storage:
  data_dir: /tmp/worlds
memory:
  embed_timeout: 5s
embedding:
  provider: mock
groups:
  drop_empty: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/worlds", cfg.Storage.DataDir)
	assert.Equal(t, "world_", cfg.Storage.WorldPrefix, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Memory.EmbedTimeout)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.True(t, cfg.Groups.DropEmpty)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromDir_HiddenDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".3000world"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".3000world", "config.yaml"),
		[]byte("logging:\n  level: debug\n"), 0644))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Memory.Enabled = false
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_EMBED_KEY", "sk-test")
	e := EmbeddingConfig{APIKeyEnv: "TEST_EMBED_KEY"}
	assert.Equal(t, "sk-test", e.APIKey())
	assert.Empty(t, EmbeddingConfig{}.APIKey())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("THREEWORLD_TEST_VAR=from-dotenv\n"), 0644))
	t.Setenv("THREEWORLD_TEST_VAR", "")
	os.Unsetenv("THREEWORLD_TEST_VAR")

	LoadEnv(dir)
	assert.Equal(t, "from-dotenv", os.Getenv("THREEWORLD_TEST_VAR"))
}
