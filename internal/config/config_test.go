package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/54b3r/healthrag/internal/dataset"
	"github.com/54b3r/healthrag/internal/rag"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: azure
  model: text-embedding-3-small
  batch_size: 64
  azure:
    endpoint: https://my-resource.openai.azure.com
    api_version: "2024-02-01"
  ark:
    region: cn-beijing
retrieval:
  chunk_size: 800
  chunk_overlap: 100
  top_k: 8
index:
  dir: /var/lib/healthrag/index
  dataset_paths:
    - data/train.json
    - data/extra.json
server:
  port: 9090
  rate_limit: 2.5
logging:
  level: debug
  format: text
journal:
  db_path: disabled
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_BATCH_SIZE",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_VERSION", "ARK_REGION",
		"HEALTHRAG_CHUNK_SIZE", "HEALTHRAG_CHUNK_OVERLAP", "HEALTHRAG_TOP_K",
		"HEALTHRAG_INDEX_DIR", "HEALTHRAG_DATASET_PATHS",
		"HEALTHRAG_PORT", "HEALTHRAG_RATE_LIMIT",
		"LOG_LEVEL", "LOG_FORMAT", "HEALTHRAG_JOURNAL_DB",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":       "azure",
		"EMBEDDING_MODEL":          "text-embedding-3-small",
		"EMBEDDING_BATCH_SIZE":     "64",
		"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
		"AZURE_OPENAI_API_VERSION": "2024-02-01",
		"ARK_REGION":               "cn-beijing",
		"HEALTHRAG_CHUNK_SIZE":     "800",
		"HEALTHRAG_CHUNK_OVERLAP":  "100",
		"HEALTHRAG_TOP_K":          "8",
		"HEALTHRAG_INDEX_DIR":      "/var/lib/healthrag/index",
		"HEALTHRAG_DATASET_PATHS":  "data/train.json" + string(os.PathListSeparator) + "data/extra.json",
		"HEALTHRAG_PORT":           "9090",
		"HEALTHRAG_RATE_LIMIT":     "2.5",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "text",
		"HEALTHRAG_JOURNAL_DB":     "disabled",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading: it should NOT be overwritten.
	t.Setenv("EMBEDDING_PROVIDER", "openai")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "openai" {
		t.Errorf("EMBEDDING_PROVIDER: expected env override %q, got %q", "openai", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "HEALTHRAG_TOP_K=9\nHEALTHRAG_INDEX_DIR=from-file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HEALTHRAG_TOP_K", "")
	os.Unsetenv("HEALTHRAG_TOP_K")
	t.Setenv("HEALTHRAG_INDEX_DIR", "from-env")

	ok, err := LoadEnvFile(envPath, slog.Default())
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if !ok {
		t.Fatal("expected file to be read")
	}
	if got := os.Getenv("HEALTHRAG_TOP_K"); got != "9" {
		t.Errorf("HEALTHRAG_TOP_K = %q, want 9", got)
	}
	if got := os.Getenv("HEALTHRAG_INDEX_DIR"); got != "from-env" {
		t.Errorf("HEALTHRAG_INDEX_DIR = %q, existing env must win", got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	t.Parallel()

	ok, err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env"), slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("missing file reported as read")
	}
}

// clearRetrievalEnv unsets every variable RetrievalFromEnv reads.
func clearRetrievalEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HEALTHRAG_CHUNK_SIZE", "HEALTHRAG_CHUNK_OVERLAP", "HEALTHRAG_CHUNK_LOOKBACK",
		"EMBEDDING_BATCH_SIZE", "EMBEDDING_WORKERS", "HEALTHRAG_TOP_K",
		"HEALTHRAG_MAX_CONTEXT_TOKENS", "HEALTHRAG_INDEX_DIR",
		"HEALTHRAG_DATASET_PATHS", "HEALTHRAG_JOURNAL_DB",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestRetrievalFromEnv_Defaults(t *testing.T) {
	clearRetrievalEnv(t)

	r, err := RetrievalFromEnv()
	if err != nil {
		t.Fatalf("RetrievalFromEnv: %v", err)
	}
	if r.ChunkSize != DefaultChunkSize || r.ChunkOverlap != DefaultChunkOverlap {
		t.Errorf("chunking = %d/%d", r.ChunkSize, r.ChunkOverlap)
	}
	if r.ChunkLookback != 0 {
		t.Errorf("ChunkLookback = %d, want 0 (chunker default)", r.ChunkLookback)
	}
	if r.BatchSize != DefaultBatchSize || r.Workers != DefaultWorkers {
		t.Errorf("batching = %d/%d", r.BatchSize, r.Workers)
	}
	if r.TopK != DefaultTopK || r.MaxContextTokens != DefaultMaxContextTokens {
		t.Errorf("query defaults = %d/%d", r.TopK, r.MaxContextTokens)
	}
	if r.IndexDir != DefaultIndexDir {
		t.Errorf("IndexDir = %q", r.IndexDir)
	}
	if !slices.Equal(r.DatasetPaths, dataset.DefaultPaths) {
		t.Errorf("DatasetPaths = %v", r.DatasetPaths)
	}
}

func TestRetrievalFromEnv_Overrides(t *testing.T) {
	clearRetrievalEnv(t)
	t.Setenv("HEALTHRAG_CHUNK_SIZE", "500")
	t.Setenv("HEALTHRAG_CHUNK_OVERLAP", "50")
	t.Setenv("HEALTHRAG_TOP_K", " 3 ")
	t.Setenv("HEALTHRAG_DATASET_PATHS", strings.Join([]string{"a.json", "b.json"}, string(os.PathListSeparator)))
	t.Setenv("HEALTHRAG_JOURNAL_DB", JournalDisabled)

	r, err := RetrievalFromEnv()
	if err != nil {
		t.Fatalf("RetrievalFromEnv: %v", err)
	}
	if r.ChunkSize != 500 || r.ChunkOverlap != 50 || r.TopK != 3 {
		t.Errorf("got %+v", r)
	}
	if !slices.Equal(r.DatasetPaths, []string{"a.json", "b.json"}) {
		t.Errorf("DatasetPaths = %v", r.DatasetPaths)
	}
	if r.JournalDB != JournalDisabled {
		t.Errorf("JournalDB = %q", r.JournalDB)
	}
}

func TestRetrievalFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"not a number", map[string]string{"HEALTHRAG_CHUNK_SIZE": "big"}, "not an integer"},
		{"zero size", map[string]string{"HEALTHRAG_CHUNK_SIZE": "0"}, "chunk size"},
		{"overlap equals size", map[string]string{"HEALTHRAG_CHUNK_SIZE": "100", "HEALTHRAG_CHUNK_OVERLAP": "100"}, "chunk overlap"},
		{"negative overlap", map[string]string{"HEALTHRAG_CHUNK_OVERLAP": "-1"}, "chunk overlap"},
		{"negative lookback", map[string]string{"HEALTHRAG_CHUNK_LOOKBACK": "-5"}, "lookback"},
		{"zero batch", map[string]string{"EMBEDDING_BATCH_SIZE": "0"}, "batch size"},
		{"zero workers", map[string]string{"EMBEDDING_WORKERS": "0"}, "workers"},
		{"zero top k", map[string]string{"HEALTHRAG_TOP_K": "0"}, "top k"},
		{"zero budget", map[string]string{"HEALTHRAG_MAX_CONTEXT_TOKENS": "0"}, "max context tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearRetrievalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := RetrievalFromEnv()
			if !errors.Is(err, rag.ErrConfiguration) {
				t.Fatalf("want ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{2.5, "2.5"},
		{1.0, "1"},
		{10, "10"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
