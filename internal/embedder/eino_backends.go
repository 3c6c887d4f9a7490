package embedder

import (
	"context"
	"fmt"

	einoark "github.com/cloudwego/eino-ext/components/embedding/ark"
	einogemini "github.com/cloudwego/eino-ext/components/embedding/gemini"
	"google.golang.org/genai"

	"github.com/54b3r/healthrag/internal/rag"
)

const defaultGeminiModel = "gemini-embedding-001"

// newArk builds a Volcengine Ark embedder. Ark models are addressed by
// endpoint id, so EMBEDDING_MODEL is required. EMBEDDING_ENDPOINT and
// ARK_REGION override the SDK defaults.
func newArk(ctx context.Context) (rag.Embedder, error) {
	apiKey := getEnv("EMBEDDING_API_KEY")
	if apiKey == "" {
		apiKey = getEnv("ARK_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embedder: ark requires ARK_API_KEY or EMBEDDING_API_KEY: %w", rag.ErrConfiguration)
	}
	model := getEnv("EMBEDDING_MODEL")
	if model == "" {
		return nil, fmt.Errorf("embedder: ark requires EMBEDDING_MODEL (endpoint id): %w", rag.ErrConfiguration)
	}

	inner, err := einoark.NewEmbedder(ctx, &einoark.EmbeddingConfig{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: getEnv("EMBEDDING_ENDPOINT"),
		Region:  getEnv("ARK_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: create ark embedder: %w", err)
	}
	return NewEinoEmbedder(inner, "ark:"+model)
}

// newGemini builds a Google Gemini embedder on the Gemini API backend.
func newGemini(ctx context.Context) (rag.Embedder, error) {
	apiKey := getEnv("EMBEDDING_API_KEY")
	if apiKey == "" {
		apiKey = getEnv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY: %w", rag.ErrConfiguration)
	}
	model := getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: create gemini client: %w", err)
	}
	inner, err := einogemini.NewEmbedder(ctx, &einogemini.EmbeddingConfig{
		Client: client,
		Model:  model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: create gemini embedder: %w", err)
	}
	return NewEinoEmbedder(inner, "gemini:"+model)
}
