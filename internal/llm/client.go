// Package llm implements C5: the chat-completion and structured-extraction
// capability interface consumed by the layer manager (C3) and extractor
// (C11), plus two adapters (a GenAI-backed client and a generic
// OpenAI-compatible HTTP client), mirroring the teacher's multi-provider
// internal/perception layering.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cortex/internal/logging"
)

// defaultSystemPrompt matches the teacher's grounded-answers system prompt,
// generalized away from code-review framing to this system's memory-engine
// framing.
const defaultSystemPrompt = "You are the summarization and extraction engine for a persistent memory store. Respond in English. Be concise and ground every statement only in the supplied content; never invent facts not present in the input."

// Client is the capability interface every LLM backend implements.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Extract asks the model to produce JSON conforming to schema (a
	// JSON-Schema document) and returns the raw JSON bytes, unparsed.
	Extract(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error)
}

// Config configures whichever backend NewClient selects.
type Config struct {
	Provider    string // "openai" (default, generic-compatible) or "genai"
	APIBaseURL  string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   2048,
		Timeout:     30 * time.Second,
	}
}

// NewClient constructs a Client per cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	logging.Get(logging.CategoryLLM).Info("creating llm client provider=%s model=%s", cfg.Provider, cfg.Model)
	switch cfg.Provider {
	case "genai":
		return NewGenAIClient(cfg)
	case "", "openai":
		return NewOpenAICompatClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// DetectProvider picks "genai" when an API key is configured and no
// explicit LLM_API_BASE_URL overrides it, otherwise "openai" — the same
// env-then-config precedence the teacher's perception.DetectProvider used
// for six providers, collapsed to the two this system ships.
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return cfg.Provider
	}
	if cfg.APIBaseURL == "" && cfg.APIKey != "" {
		return "genai"
	}
	return "openai"
}
