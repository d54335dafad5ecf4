package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GenAIClient implements Client on top of Google's Gemini chat API.
type GenAIClient struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGenAIClient constructs a GenAI-backed Client.
func NewGenAIClient(cfg Config) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai llm: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("genai llm: create client: %w", err)
	}
	return &GenAIClient{client: client, model: model, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}, nil
}

// Complete sends prompt with the default system instruction.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, defaultSystemPrompt, prompt)
}

// CompleteWithSystem issues a single-turn generation call.
func (c *GenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       floatPtr(float32(c.temperature)),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("genai llm: generate: %w", err)
	}
	return result.Text(), nil
}

// Extract asks for JSON conforming to schema via response MIME type
// application/json plus an embedded response schema.
func (c *GenAIClient) Extract(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("genai llm: marshal schema: %w", err)
	}
	fullPrompt := fmt.Sprintf("%s\n\nRespond with JSON matching this schema exactly:\n%s", prompt, string(schemaBytes))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(defaultSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       floatPtr(float32(c.temperature)),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(fullPrompt, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai llm: extract: %w", err)
	}
	return json.RawMessage(result.Text()), nil
}

func floatPtr(f float32) *float32 { return &f }
