//go:build integration

package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// TestOllamaGenerator_Integration embeds through a locally running Ollama
// instance and checks the Generator's normalization end-to-end.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaGenerator_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaGenerator_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})
	gen, err := NewGenerator(emb, GeneratorConfig{BatchSize: 2, Workers: 2})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	texts := []string{
		"Persistent dry cough and low-grade fever for three days.",
		"Typical adult dosage of ibuprofen for headache relief.",
		"Normal fasting blood glucose range in adults.",
	}

	vecs, err := gen.Generate(ctx, texts, nil)
	if err != nil {
		t.Fatalf("Generate() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(vecs))
	}

	for i, v := range vecs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if math.Abs(sum-1) > 1e-4 {
			t.Errorf("embedding[%d] not unit length: |v|^2=%v", i, sum)
		}
	}
	t.Logf("model=%s dim=%d", model, len(vecs[0]))
}
