package embedding

import (
	"context"
	"fmt"

	"cortex/internal/logging"

	"google.golang.org/genai"
)

// maxBatchSize matches the GenAI API's hard cap on contents per request.
const maxBatchSize = 100

// dimensions is the width produced by gemini-embedding-001.
const dimensions = 3072

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings via Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEngine constructs a GenAI-backed Engine.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai embedding: API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "RETRIEVAL_DOCUMENT"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai embedding: create client: %w", err)
	}
	return &GenAIEngine{client: client, model: model, taskType: taskType}, nil
}

// Embed embeds a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embedChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("genai embedding: no embeddings returned")
	}
	return out[0], nil
}

// EmbedBatch embeds many texts, chunking at maxBatchSize and preserving
// input order across chunk boundaries.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedChunk(ctx, texts)
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("genai embedding: batch %d-%d: %w", start, end, err)
		}
		all = append(all, chunk...)
	}
	return all, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(dimensions),
	})
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("genai embed failed: %v", err)
		return nil, err
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions reports the vector width.
func (e *GenAIEngine) Dimensions() int { return dimensions }

// Name identifies this engine for logging and vector-store metadata.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }
