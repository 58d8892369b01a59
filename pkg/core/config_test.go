package core_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/llm"
)

// clearEnv pins every variable LoadConfigFromEnv reads so a stray .env file
// cannot leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_PROVIDER", "SQLITE_PATH", "SQLITE_COLLECTION",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DATABASE",
		"POSTGRES_COLLECTION", "POSTGRES_SSLMODE",
		"OCEANBASE_HOST", "OCEANBASE_PORT", "OCEANBASE_USER", "OCEANBASE_PASSWORD", "OCEANBASE_DATABASE",
		"OCEANBASE_COLLECTION",
		"LLM_PROVIDER", "LLM_API_KEY", "LLM_MODEL", "LLM_BASE_URL",
		"EMBEDDING_PROVIDER", "EMBEDDING_API_KEY", "EMBEDDING_MODEL", "EMBEDDING_BASE_URL", "EMBEDDING_DIMS",
		"SCOPEMEM_SIMILARITY_THRESHOLD", "SCOPEMEM_TIE_BREAK", "SCOPEMEM_HALF_LIFE_DAYS", "SCOPEMEM_DECAY_RATE",
		"SCOPEMEM_RETENTION_FLOOR", "SCOPEMEM_ACCESS_POLICY", "SCOPEMEM_ACCESS_CACHE_TTL",
		"SCOPEMEM_SOFT_DEADLINE", "SCOPEMEM_NODE_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *scopemem.Config)
		wantErr bool
	}{
		{
			name: "sqlite with openai",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"SQLITE_PATH":        "./test.db",
				"LLM_PROVIDER":       "openai",
				"LLM_API_KEY":        "test-key",
				"EMBEDDING_PROVIDER": "openai",
				"EMBEDDING_API_KEY":  "test-key",
			},
			check: func(t *testing.T, cfg *scopemem.Config) {
				assert.Equal(t, "sqlite", cfg.Store.Provider)
				assert.Equal(t, "./test.db", cfg.Store.SQLitePath)
				assert.Equal(t, "gpt-4", cfg.LLM.Model)
				assert.Equal(t, "text-embedding-ada-002", cfg.Embedder.Model)
				assert.Empty(t, cfg.LLM.BaseURL)
			},
		},
		{
			name: "qwen uses the compatible endpoint",
			envVars: map[string]string{
				"DATABASE_PROVIDER":  "sqlite",
				"LLM_PROVIDER":       "qwen",
				"EMBEDDING_PROVIDER": "qwen",
			},
			check: func(t *testing.T, cfg *scopemem.Config) {
				assert.Equal(t, "qwen-plus", cfg.LLM.Model)
				assert.Contains(t, cfg.LLM.BaseURL, "compatible-mode")
				assert.Equal(t, "text-embedding-v4", cfg.Embedder.Model)
			},
		},
		{
			name: "postgres",
			envVars: map[string]string{
				"DATABASE_PROVIDER": "postgres",
				"POSTGRES_HOST":     "db",
				"POSTGRES_PORT":     "6543",
				"POSTGRES_DATABASE": "mem",
			},
			check: func(t *testing.T, cfg *scopemem.Config) {
				assert.Equal(t, "db", cfg.Store.Host)
				assert.Equal(t, 6543, cfg.Store.Port)
				assert.Equal(t, "mem", cfg.Store.Database)
				assert.Equal(t, "disable", cfg.Store.SSLMode)
			},
		},
		{
			name: "engine overrides",
			envVars: map[string]string{
				"SCOPEMEM_SIMILARITY_THRESHOLD": "0.85",
				"SCOPEMEM_TIE_BREAK":            "flag_both",
				"SCOPEMEM_HALF_LIFE_DAYS":       "14",
				"SCOPEMEM_SOFT_DEADLINE":        "50ms",
				"SCOPEMEM_NODE_ID":              "7",
			},
			check: func(t *testing.T, cfg *scopemem.Config) {
				require.NotNil(t, cfg.Engine)
				assert.Equal(t, 0.85, cfg.Engine.Intelligence.SimilarityThreshold)
				assert.Equal(t, intelligence.TieBreakFlagBoth, cfg.Engine.Intelligence.TieBreak)
				assert.Equal(t, 14.0, cfg.Engine.Intelligence.Decay.HalfLifeDays)
				assert.Equal(t, 50*time.Millisecond, cfg.Engine.SoftDeadline)
				assert.Equal(t, int64(7), cfg.Engine.NodeID)
			},
		},
		{
			name:    "bad threshold",
			envVars: map[string]string{"SCOPEMEM_SIMILARITY_THRESHOLD": "high"},
			wantErr: true,
		},
		{
			name:    "bad deadline",
			envVars: map[string]string{"SCOPEMEM_SOFT_DEADLINE": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			config, err := scopemem.LoadConfigFromEnv()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	sqlite := scopemem.StoreConfig{Provider: "sqlite", SQLitePath: "./test.db"}

	tests := []struct {
		name    string
		config  *scopemem.Config
		wantErr bool
	}{
		{
			name:   "store only",
			config: &scopemem.Config{Store: sqlite},
		},
		{
			name: "full",
			config: &scopemem.Config{
				Store:    sqlite,
				LLM:      scopemem.LLMConfig{Provider: "deepseek", APIKey: "k"},
				Embedder: scopemem.EmbedderConfig{Provider: "openai", APIKey: "k"},
			},
		},
		{
			name:    "missing store provider",
			config:  &scopemem.Config{},
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			config:  &scopemem.Config{Store: scopemem.StoreConfig{Provider: "sqlite"}},
			wantErr: true,
		},
		{
			name:    "postgres without host",
			config:  &scopemem.Config{Store: scopemem.StoreConfig{Provider: "postgres", Database: "x"}},
			wantErr: true,
		},
		{
			name:    "unknown llm",
			config:  &scopemem.Config{Store: sqlite, LLM: scopemem.LLMConfig{Provider: "anthropic"}},
			wantErr: true,
		},
		{
			name: "invalid llm params",
			config: &scopemem.Config{Store: sqlite, LLM: scopemem.LLMConfig{
				Provider: "openai",
				Params:   &llm.ModelParams{Temperature: llm.Range(1, 0, 0.5)},
			}},
			wantErr: true,
		},
		{
			name: "unknown tie break",
			config: &scopemem.Config{Store: sqlite, Engine: &scopemem.EngineConfig{
				Intelligence: &intelligence.Config{TieBreak: "coin_flip"},
			}},
			wantErr: true,
		},
		{
			name:    "node id out of range",
			config:  &scopemem.Config{Store: sqlite, Engine: &scopemem.EngineConfig{NodeID: 4096}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, scopemem.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	cfg := scopemem.Config{
		Store: scopemem.StoreConfig{Provider: "sqlite", SQLitePath: "/tmp/mem.db"},
		LLM: scopemem.LLMConfig{
			Provider: "openai",
			Model:    "o1-mini",
			Params:   &llm.ModelParams{Temperature: llm.Fixed(1)},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := scopemem.LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mem.db", loaded.Store.SQLitePath)
	require.NotNil(t, loaded.LLM.Params)
	assert.Equal(t, llm.Fixed(1), loaded.LLM.Params.Temperature)
	assert.NoError(t, loaded.Validate())

	_, err = scopemem.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDefaultEngineConfig(t *testing.T) {
	engine := scopemem.DefaultEngineConfig()
	assert.Equal(t, 0.9, engine.Intelligence.SimilarityThreshold)
	assert.Equal(t, intelligence.TieBreakNewestCreated, engine.Intelligence.TieBreak)
	assert.Positive(t, engine.SoftDeadline)
	assert.Positive(t, engine.CandidateLimit)
}
