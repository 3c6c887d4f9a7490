package embedder

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/54b3r/healthrag/internal/rag"
)

// clearEmbeddingEnv blanks every variable NewFromEnv and Validate read.
func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
		"EMBEDDING_ENDPOINT", "EMBEDDING_DIMENSIONS", "OLLAMA_HOST",
		"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"AZURE_OPENAI_API_VERSION", "ARK_API_KEY", "ARK_REGION", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantID  string
		wantErr bool
	}{
		{name: "default ollama", env: nil, wantID: "ollama:nomic-embed-text"},
		{name: "ollama model override", env: map[string]string{"EMBEDDING_MODEL": "mxbai-embed-large"}, wantID: "ollama:mxbai-embed-large"},
		{name: "openai without key", env: map[string]string{"EMBEDDING_PROVIDER": "openai"}, wantErr: true},
		{name: "openai", env: map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}, wantID: "openai:text-embedding-3-small"},
		{name: "azure without endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, wantErr: true},
		{name: "azure", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "https://x.openai.azure.com"}, wantID: "azure:text-embedding-3-small"},
		{name: "ark without model", env: map[string]string{"EMBEDDING_PROVIDER": "ark", "ARK_API_KEY": "k"}, wantErr: true},
		{name: "ark without key", env: map[string]string{"EMBEDDING_PROVIDER": "ark", "EMBEDDING_MODEL": "ep-2025-emb"}, wantErr: true},
		{name: "ark", env: map[string]string{"EMBEDDING_PROVIDER": "ark", "ARK_API_KEY": "k", "EMBEDDING_MODEL": "ep-2025-emb"}, wantID: "eino:ark:ep-2025-emb"},
		{name: "gemini without key", env: map[string]string{"EMBEDDING_PROVIDER": "gemini"}, wantErr: true},
		{name: "gemini", env: map[string]string{"EMBEDDING_PROVIDER": "gemini", "GOOGLE_API_KEY": "g"}, wantID: "eino:gemini:gemini-embedding-001"},
		{name: "hash with dims", env: map[string]string{"EMBEDDING_PROVIDER": "hash", "EMBEDDING_DIMENSIONS": "128"}, wantID: "hash:fnv1a@128"},
		{name: "unknown", env: map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			e, err := NewFromEnv(t.Context())
			if tt.wantErr {
				if !errors.Is(err, rag.ErrConfiguration) {
					t.Errorf("want ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
			id := e.(rag.ModelIdentifier).ModelID()
			if id != tt.wantID {
				t.Errorf("ModelID = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantErr  bool
		wantWarn string
	}{
		{name: "ollama ok", env: nil},
		{name: "openai missing key", env: map[string]string{"EMBEDDING_PROVIDER": "openai"}, wantErr: true},
		{name: "azure missing endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, wantErr: true},
		{name: "ark missing model", env: map[string]string{"EMBEDDING_PROVIDER": "ark", "ARK_API_KEY": "k"}, wantErr: true},
		{name: "gemini missing key", env: map[string]string{"EMBEDDING_PROVIDER": "gemini"}, wantErr: true},
		{name: "gemini ok", env: map[string]string{"EMBEDDING_PROVIDER": "gemini", "EMBEDDING_API_KEY": "g"}},
		{name: "chat model warns", env: map[string]string{"EMBEDDING_MODEL": "llama3:8b"}, wantWarn: "looks like a chat model"},
		{name: "hash warns", env: map[string]string{"EMBEDDING_PROVIDER": "hash"}, wantWarn: "hashing embedder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, nil))
			err := Validate(log)
			if tt.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if tt.wantWarn != "" && !strings.Contains(buf.String(), tt.wantWarn) {
				t.Errorf("expected warning %q in log, got %q", tt.wantWarn, buf.String())
			}
		})
	}
}
