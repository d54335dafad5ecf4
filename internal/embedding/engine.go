// Package embedding implements C4: text-to-vector embedding, batched and
// cached. Two backends are provided (GenAI and Ollama-compatible HTTP),
// matching the teacher's pluggable-provider convention.
package embedding

import (
	"context"
	"fmt"
	"math"

	"cortex/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is an optional interface implemented by engines that can
// verify upstream availability before a batch of work is attempted.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "genai" or "ollama"

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
	TaskType    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "RETRIEVAL_DOCUMENT",
	}
}

// NewEngine constructs an Engine from Config.
func NewEngine(cfg Config) (Engine, error) {
	logging.Get(logging.CategoryEmbedding).Info("creating embedding engine provider=%s", cfg.Provider)
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 for a zero-magnitude vector rather than NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, am, bm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		am += float64(a[i]) * float64(a[i])
		bm += float64(b[i]) * float64(b[i])
	}
	if am == 0 || bm == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(am) * math.Sqrt(bm)), nil
}
