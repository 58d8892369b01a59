package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/oceanbase/scopemem-go/pkg/intelligence"
	"github.com/oceanbase/scopemem-go/pkg/llm"
)

// Config contains the complete configuration for a Client.
//
// Example:
//
//	config := &core.Config{
//	    Store: core.StoreConfig{Provider: "sqlite", SQLitePath: "./scopemem.db"},
//	    LLM: core.LLMConfig{Provider: "openai", APIKey: "sk-...", Model: "gpt-4"},
//	    Embedder: core.EmbedderConfig{Provider: "openai", APIKey: "sk-..."},
//	}
type Config struct {
	// LLM configures extraction, importance and compression. An empty
	// provider disables them.
	LLM LLMConfig `json:"llm"`

	// Embedder configures embeddings. An empty provider falls back to
	// word-set similarity.
	Embedder EmbedderConfig `json:"embedder"`

	// Store configures persistence.
	Store StoreConfig `json:"store"`

	// Engine tunes the engine; nil uses DefaultEngineConfig.
	Engine *EngineConfig `json:"engine,omitempty"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, anthropic, and the OpenAI-compatible deepseek,
// qwen and ollama, which only differ in their default base URL and model.
type LLMConfig struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`

	// Params constrains generation parameters per model.
	Params *llm.ModelParams `json:"params,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, and the OpenAI-compatible qwen.
type EmbedderConfig struct {
	Provider   string `json:"provider"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the memory store.
//
// Supported providers: sqlite, postgres, oceanbase.
type StoreConfig struct {
	Provider       string `json:"provider"`
	CollectionName string `json:"collection_name,omitempty"`

	// SQLite
	SQLitePath    string `json:"sqlite_path,omitempty"`
	BusyTimeoutMS int    `json:"busy_timeout_ms,omitempty"`

	// PostgreSQL and OceanBase
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	// Intelligence configures deduplication, conflicts, scoring, decay and
	// promotion.
	Intelligence *intelligence.Config `json:"intelligence,omitempty"`

	// AccessPolicyPath is a JSON access policy file. Without one every
	// space and area check is denied.
	AccessPolicyPath string `json:"access_policy_path,omitempty"`

	// AccessCacheTTL bounds how stale a cached access decision may be.
	AccessCacheTTL time.Duration `json:"access_cache_ttl,omitempty"`

	// SoftDeadline bounds ranking time in AssembleContext.
	SoftDeadline time.Duration `json:"soft_deadline,omitempty"`

	// CandidateLimit caps the candidates read per assembly.
	CandidateLimit int `json:"candidate_limit,omitempty"`

	// NodeID is the snowflake node of this process (0-1023).
	NodeID int64 `json:"node_id,omitempty"`

	// NotifyTimeout bounds each approver notification.
	NotifyTimeout time.Duration `json:"notify_timeout,omitempty"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Intelligence:   intelligence.DefaultConfig(),
		AccessCacheTTL: time.Minute,
		SoftDeadline:   200 * time.Millisecond,
		CandidateLimit: 500,
		NodeID:         1,
		NotifyTimeout:  10 * time.Second,
	}
}

// engine returns the engine config with defaults filled in.
func (c *Config) engine() *EngineConfig {
	def := DefaultEngineConfig()
	if c.Engine == nil {
		return def
	}
	e := *c.Engine
	if e.Intelligence == nil {
		e.Intelligence = def.Intelligence
	}
	if e.AccessCacheTTL <= 0 {
		e.AccessCacheTTL = def.AccessCacheTTL
	}
	if e.SoftDeadline <= 0 {
		e.SoftDeadline = def.SoftDeadline
	}
	if e.CandidateLimit <= 0 {
		e.CandidateLimit = def.CandidateLimit
	}
	if e.NotifyTimeout <= 0 {
		e.NotifyTimeout = def.NotifyTimeout
	}
	return &e
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// A .env file found by FindEnvFile is loaded first. Supported variables:
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_COLLECTION, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE, OCEANBASE_COLLECTION
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - SCOPEMEM_SIMILARITY_THRESHOLD, SCOPEMEM_TIE_BREAK, SCOPEMEM_HALF_LIFE_DAYS,
//     SCOPEMEM_DECAY_RATE, SCOPEMEM_RETENTION_FLOOR, SCOPEMEM_ACCESS_POLICY,
//     SCOPEMEM_ACCESS_CACHE_TTL, SCOPEMEM_SOFT_DEADLINE, SCOPEMEM_NODE_ID
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := &Config{
		Store:    storeFromEnv(),
		LLM:      llmFromEnv(),
		Embedder: embedderFromEnv(),
	}

	engine, err := engineFromEnv()
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromEnv", err)
	}
	config.Engine = engine
	return config, nil
}

func storeFromEnv() StoreConfig {
	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	switch provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		return StoreConfig{
			Provider:       provider,
			Host:           getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:           port,
			User:           getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password:       os.Getenv("POSTGRES_PASSWORD"),
			Database:       getEnvOrDefault("POSTGRES_DATABASE", "scopemem"),
			CollectionName: getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			SSLMode:        getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		return StoreConfig{
			Provider:       provider,
			Host:           getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			Port:           port,
			User:           getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			Password:       os.Getenv("OCEANBASE_PASSWORD"),
			Database:       getEnvOrDefault("OCEANBASE_DATABASE", "scopemem"),
			CollectionName: getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
		}
	default:
		return StoreConfig{
			Provider:       provider,
			SQLitePath:     getEnvOrDefault("SQLITE_PATH", "./scopemem.db"),
			CollectionName: getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	}
}

func llmFromEnv() LLMConfig {
	provider := os.Getenv("LLM_PROVIDER")
	baseURL, model := llmDefaults(provider)
	return LLMConfig{
		Provider: provider,
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    getEnvOrDefault("LLM_MODEL", model),
		BaseURL:  getEnvOrDefault("LLM_BASE_URL", baseURL),
	}
}

// llmDefaults returns the default base URL and model of a provider.
func llmDefaults(provider string) (string, string) {
	switch provider {
	case "deepseek":
		return "https://api.deepseek.com/v1", "deepseek-chat"
	case "qwen":
		return "https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus"
	case "ollama":
		return "http://localhost:11434/v1", "llama3.1"
	case "anthropic":
		return "", "claude-3-5-sonnet-20240620"
	default:
		return "", "gpt-4"
	}
}

func embedderFromEnv() EmbedderConfig {
	provider := os.Getenv("EMBEDDING_PROVIDER")
	baseURL, model := embedderDefaults(provider)
	dims, _ := strconv.Atoi(os.Getenv("EMBEDDING_DIMS"))
	return EmbedderConfig{
		Provider:   provider,
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      getEnvOrDefault("EMBEDDING_MODEL", model),
		BaseURL:    getEnvOrDefault("EMBEDDING_BASE_URL", baseURL),
		Dimensions: dims,
	}
}

func embedderDefaults(provider string) (string, string) {
	switch provider {
	case "qwen":
		return "https://dashscope.aliyuncs.com/compatible-mode/v1", "text-embedding-v4"
	default:
		return "", "text-embedding-ada-002"
	}
}

func engineFromEnv() (*EngineConfig, error) {
	engine := DefaultEngineConfig()
	intel := engine.Intelligence

	var err error
	floatVar := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" && err == nil {
			var f float64
			if f, err = strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			} else {
				err = fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" && err == nil {
			var d time.Duration
			if d, err = time.ParseDuration(v); err == nil {
				*dst = d
			} else {
				err = fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	floatVar("SCOPEMEM_SIMILARITY_THRESHOLD", &intel.SimilarityThreshold)
	floatVar("SCOPEMEM_HALF_LIFE_DAYS", &intel.Decay.HalfLifeDays)
	floatVar("SCOPEMEM_DECAY_RATE", &intel.Decay.DecayRate)
	floatVar("SCOPEMEM_RETENTION_FLOOR", &intel.Decay.RetentionFloor)
	durationVar("SCOPEMEM_ACCESS_CACHE_TTL", &engine.AccessCacheTTL)
	durationVar("SCOPEMEM_SOFT_DEADLINE", &engine.SoftDeadline)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SCOPEMEM_TIE_BREAK"); v != "" {
		intel.TieBreak = intelligence.TieBreak(v)
	}
	if v := os.Getenv("SCOPEMEM_NODE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SCOPEMEM_NODE_ID: %w", err)
		}
		engine.NodeID = id
	}
	engine.AccessPolicyPath = os.Getenv("SCOPEMEM_ACCESS_POLICY")
	return engine, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}
	return &config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return NewMemoryError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	switch c.Store.Provider {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return invalid("sqlite_path is required")
		}
	case "postgres", "oceanbase":
		if c.Store.Host == "" || c.Store.Database == "" {
			return invalid("%s needs host and database", c.Store.Provider)
		}
	default:
		return invalid("unknown store provider %q", c.Store.Provider)
	}

	switch c.LLM.Provider {
	case "", "openai", "anthropic", "deepseek", "qwen", "ollama":
	default:
		return invalid("unknown llm provider %q", c.LLM.Provider)
	}
	if err := c.LLM.Params.Validate(); err != nil {
		return invalid("llm params: %v", err)
	}

	switch c.Embedder.Provider {
	case "", "openai", "qwen":
	default:
		return invalid("unknown embedder provider %q", c.Embedder.Provider)
	}

	engine := c.engine()
	intel := engine.Intelligence
	if intel.SimilarityThreshold < 0 || intel.SimilarityThreshold > 1 {
		return invalid("similarity_threshold must be within [0, 1]")
	}
	switch intel.TieBreak {
	case "", intelligence.TieBreakNewestCreated, intelligence.TieBreakFlagBoth:
	default:
		return invalid("unknown tie_break %q", intel.TieBreak)
	}
	if engine.NodeID < 0 || engine.NodeID > 1023 {
		return invalid("node_id must be within [0, 1023]")
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example in the current directory
// and up to five parent directories.
func FindEnvFile() (string, bool) {
	dir, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		for _, name := range []string{".env", ".env.example"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
