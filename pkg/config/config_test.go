package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		t.Setenv("GROQ_API_KEY", "gsk-test")
		t.Setenv("ZILLIZ_API_KEY", "zk-test")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "contract_intelligence", cfg.Index.Name)
		assert.Equal(t, 384, cfg.Index.Dimension)
		assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embedding.Model)
		assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
		assert.Equal(t, 10, cfg.Ingestion.BatchPages)
		assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
		assert.Equal(t, 100, cfg.Ingestion.ChunkOverlap)
		assert.Equal(t, 4, cfg.Retrieval.AskK)
		assert.Equal(t, 10, cfg.Retrieval.ExtractK)
		assert.Equal(t, 15, cfg.Retrieval.AuditK)
		assert.Equal(t, 5, cfg.Notify.DelaySec)
		assert.Equal(t, 10, cfg.Notify.TimeoutSec)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Should read legacy variable names", func(t *testing.T) {
		t.Setenv("GROQ_API_KEY", "gsk-legacy")
		t.Setenv("INDEX_NAME", "contracts_eu")
		t.Setenv("EMBEDDING_MODEL", "BAAI/bge-small-en")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "gsk-legacy", cfg.LLM.APIKey)
		assert.Equal(t, "contracts_eu", cfg.Index.Name)
		assert.Equal(t, "BAAI/bge-small-en", cfg.Embedding.Model)
	})

	t.Run("Should prefer prefixed variables", func(t *testing.T) {
		t.Setenv("CONTRACT_LLM_APIKEY", "gsk-prefixed")
		t.Setenv("GROQ_API_KEY", "gsk-legacy")
		t.Setenv("CONTRACT_INDEX_BACKEND", "memory")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "gsk-prefixed", cfg.LLM.APIKey)
		assert.Equal(t, IndexBackendMemory, cfg.Index.Backend)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Should require the model key", func(t *testing.T) {
		t.Setenv("CONTRACT_INDEX_BACKEND", "memory")
		cfg, err := Load()
		require.NoError(t, err)
		cfg.LLM.APIKey = ""

		err = cfg.Validate()
		assert.ErrorContains(t, err, "llm.apiKey is required")
	})

	t.Run("Should require the index key for zilliz", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		cfg.LLM.APIKey = "gsk"
		cfg.Index.Backend = IndexBackendZilliz
		cfg.Index.APIKey = ""

		assert.ErrorContains(t, cfg.Validate(), "index.apiKey is required")

		cfg.Index.Backend = IndexBackendMilvus
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Should reject an overlap that does not leave room to advance", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		cfg.LLM.APIKey = "gsk"
		cfg.Index.Backend = IndexBackendMemory
		cfg.Ingestion.ChunkOverlap = 600

		assert.ErrorContains(t, cfg.Validate(), "chunkOverlap")
	})
}
