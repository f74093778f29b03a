package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, "coach_docs", cfg.Search.GlobalCollection)
	assert.Equal(t, "coach_user_", cfg.Search.UserCollectionPrefix)
	assert.Equal(t, 0.7, cfg.Search.UserWeight)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Equal(t, 3, cfg.Policy.ConversationLimit)
	assert.Equal(t, 90, cfg.Retention.EpisodicDays)
	assert.Equal(t, 30, cfg.Retention.MetricsDays)
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := `
memory:
  type: sqlite
  sqlite:
    path: /tmp/test-coachmem.db
profiles:
  type: boltdb
search:
  type: chromem
  global_collection: library
  user_weight: 0.6
  top_k: 5
  chromem:
    storage_path: /tmp/test-chromem
reasoning:
  provider: openai
  openai:
    model: gpt-4o
policy:
  conversation_limit: 7
  script_paths:
    - ./hooks
retention:
  episodic_days: 14
logging:
  level: debug
  format: json
`
	cfg, err := LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Memory.Type)
	assert.Equal(t, "/tmp/test-coachmem.db", cfg.Memory.SQLite.Path)
	assert.Equal(t, "boltdb", cfg.Profiles.Type)
	assert.Equal(t, "library", cfg.Search.GlobalCollection)
	assert.Equal(t, 0.6, cfg.Search.UserWeight)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, "gpt-4o", cfg.Reasoning.OpenAI.Model)
	// Unset embedding model gets the default
	assert.Equal(t, "text-embedding-3-small", cfg.Reasoning.OpenAI.EmbeddingModel)
	assert.Equal(t, 7, cfg.Policy.ConversationLimit)
	assert.Equal(t, []string{"./hooks"}, cfg.Policy.ScriptPaths)
	assert.Equal(t, 14, cfg.Retention.EpisodicDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromBytes_SQLiteDefaultPath(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("memory:\n  type: sqlite\n"))
	require.NoError(t, err)
	assert.Equal(t, "./data/coachmem.db", cfg.Memory.SQLite.Path)
}

func TestLoadFromBytes_InvalidTypes(t *testing.T) {
	_, err := LoadFromBytes([]byte("memory:\n  type: cassandra\n"))
	assert.Error(t, err)

	_, err = LoadFromBytes([]byte("search:\n  type: faiss\n"))
	assert.Error(t, err)

	_, err = LoadFromBytes([]byte("reasoning:\n  provider: acme\n"))
	assert.Error(t, err)
}

func TestLoadFromBytes_InvalidDistanceMetric(t *testing.T) {
	yaml := `
search:
  type: pgvector
  pgvector:
    connection_string: postgres://localhost/test
    distance_metric: manhattan
`
	_, err := LoadFromBytes([]byte(yaml))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported distance metric")
}

func TestLoadFromBytes_OutOfRangeUserWeight(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("search:\n  user_weight: 1.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Search.UserWeight)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  type: volatile\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "volatile", cfg.Memory.Type)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("COACHMEM_MEMORY_SQLITE_PATH", "/tmp/env-override.db")

	cfg, err := LoadFromBytes([]byte("memory:\n  type: sqlite\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test-key", cfg.Reasoning.OpenAI.APIKey)
	assert.Equal(t, "/tmp/env-override.db", cfg.Memory.SQLite.Path)
}
