// Package config loads the TOML configuration file described in §6 and
// applies the environment-variable overlay on top, mirroring the
// env-then-config precedence the teacher's perception package uses for LLM
// provider detection.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cortex/internal/cortexerr"
)

// Config is the root configuration struct, one field per TOML section.
type Config struct {
	Qdrant    QdrantConfig    `toml:"qdrant"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Memory    MemoryConfig    `toml:"memory"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`

	// DataDir is not a TOML section; it is always supplied by the CLI
	// (--data-dir) or defaulted, never by the config file.
	DataDir string `toml:"-"`
}

// QdrantConfig configures the networked vector-store backend.
type QdrantConfig struct {
	URL            string `toml:"url"`
	CollectionName string `toml:"collection_name"`
	EmbeddingDim   int    `toml:"embedding_dim"`
	TimeoutSecs    int    `toml:"timeout_secs"`
}

// LLMConfig configures the chat-completion / structured-extraction provider.
type LLMConfig struct {
	APIBaseURL     string  `toml:"api_base_url"`
	APIKey         string  `toml:"api_key"`
	ModelEfficient string  `toml:"model_efficient"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
}

// EmbeddingConfig configures the embedding provider and its write-through
// cache.
type EmbeddingConfig struct {
	APIBaseURL    string `toml:"api_base_url"`
	APIKey        string `toml:"api_key"`
	ModelName     string `toml:"model_name"`
	BatchSize     int    `toml:"batch_size"`
	TimeoutSecs   int    `toml:"timeout_secs"`
	CacheCapacity int64  `toml:"cache_capacity"`
	CacheTTLSecs  int    `toml:"cache_ttl_secs"`
}

// MemoryConfig configures retrieval/dedup/layer thresholds shared across
// the extractor, updater and layer manager.
type MemoryConfig struct {
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	MergeThreshold      float64 `toml:"merge_threshold"`
	MaxSearchResults    int     `toml:"max_search_results"`
	AutoEnhance         bool    `toml:"auto_enhance"`
	Deduplicate         bool    `toml:"deduplicate"`
	MinConfidence       float64 `toml:"min_confidence"`
	CharsPerToken       float64 `toml:"chars_per_token"`
	AbstractMaxBytes    int     `toml:"abstract_max_bytes"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Enabled     bool     `toml:"enabled"`
	LogDirectory string  `toml:"log_directory"`
	Level       string   `toml:"level"`
	Categories  []string `toml:"categories"`
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// DefaultConfig() convention of one function building the whole tree.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Qdrant: QdrantConfig{
			URL:            "http://localhost:6334",
			CollectionName: "cortex_memories",
			EmbeddingDim:   768,
			TimeoutSecs:    30,
		},
		LLM: LLMConfig{
			ModelEfficient: "gpt-4o-mini",
			Temperature:    0.2,
			MaxTokens:      2048,
		},
		Embedding: EmbeddingConfig{
			ModelName:     "text-embedding-3-small",
			BatchSize:     100,
			TimeoutSecs:   30,
			CacheCapacity: 10_000,
			CacheTTLSecs:  3600,
		},
		Memory: MemoryConfig{
			SimilarityThreshold: 0.5,
			MergeThreshold:      0.75,
			MaxSearchResults:    20,
			AutoEnhance:         true,
			Deduplicate:         true,
			MinConfidence:       0.5,
			CharsPerToken:       3.0,
			AbstractMaxBytes:    400,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8420,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Enabled:      true,
			LogDirectory: "logs",
			Level:        "info",
		},
	}
}

// Load reads and decodes the TOML file at path (if it exists — a missing
// file is not an error, defaults apply) and then applies the environment
// overlay from §6.
func Load(path string, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, cortexerr.Wrap(cortexerr.Config, "read config file "+path, err)
			}
		} else {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, cortexerr.Wrap(cortexerr.Config, "parse config file "+path, err)
			}
		}
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

// applyEnvOverlay overlays the §6 environment variables on top of the
// decoded file, env winning over file winning over compiled-in defaults.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("EMBEDDING_API_BASE_URL"); v != "" {
		cfg.Embedding.APIBaseURL = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.ModelName = v
	}
	if v := os.Getenv("LLM_API_BASE_URL"); v != "" {
		cfg.LLM.APIBaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.ModelEfficient = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.Qdrant.URL = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		cfg.Qdrant.CollectionName = v
	}
	if v := os.Getenv("QDRANT_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.EmbeddingDim = n
		}
	}
}

// QdrantTimeout, EmbeddingTimeout and EmbeddingCacheTTL convert the TOML's
// integer-seconds fields into durations for the capability interfaces.
func (c *Config) QdrantTimeout() time.Duration     { return time.Duration(c.Qdrant.TimeoutSecs) * time.Second }
func (c *Config) EmbeddingTimeout() time.Duration  { return time.Duration(c.Embedding.TimeoutSecs) * time.Second }
func (c *Config) EmbeddingCacheTTL() time.Duration { return time.Duration(c.Embedding.CacheTTLSecs) * time.Second }
