package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, LoadConfig())
	cfg := AppConfig
	require.NotNil(t, cfg)

	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 100, cfg.Backfill.PageSize)
	assert.Equal(t, 100, cfg.Backfill.FragmentPageSize)
	assert.Equal(t, time.Second, cfg.Backfill.PageDelay)
	assert.Equal(t, "backfill:document:cursor", cfg.Backfill.CursorKey)
	assert.Equal(t, "kb", cfg.Milvus.CollectionPrefix)
	assert.Equal(t, 1536, cfg.Milvus.VectorSize)
	assert.False(t, cfg.Elastic.Enabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BACKFILL_PAGE_SIZE", "25")
	t.Setenv("SERVER_LOG_LEVEL", "debug")

	require.NoError(t, LoadConfig())

	assert.Equal(t, 25, AppConfig.Backfill.PageSize)
	assert.Equal(t, "debug", AppConfig.Server.LogLevel)
}

func TestLoadConfigAPIKeyFromEnvOnly(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	require.NoError(t, LoadConfig())
	assert.Equal(t, "sk-test", AppConfig.Embedding.OpenAIAPIKey)
}
