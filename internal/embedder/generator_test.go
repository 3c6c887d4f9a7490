package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/healthrag/internal/rag"
)

// scriptedEmbedder returns a vector derived from each text and fails any
// batch that contains failOn.
type scriptedEmbedder struct {
	failOn string
	// delay staggers batches so completion order differs from dispatch order.
	delay func(texts []string) time.Duration
	calls atomic.Int32
}

func (s *scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.delay != nil {
		select {
		case <-time.After(s.delay(texts)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == s.failOn {
			return nil, errors.New("HTTP 500")
		}
		var n int
		_, _ = fmt.Sscanf(t, "t%d", &n)
		out[i] = []float32{float32(n) + 1, 2}
	}
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%d", i)
	}
	return out
}

func TestGenerator_PreservesOrderAcrossWorkers(t *testing.T) {
	t.Parallel()

	emb := &scriptedEmbedder{delay: func(ts []string) time.Duration {
		// earlier batches finish last
		var n int
		_, _ = fmt.Sscanf(ts[0], "t%d", &n)
		return time.Duration(50-n) * time.Millisecond / 10
	}}
	g, err := NewGenerator(emb, GeneratorConfig{BatchSize: 3, Workers: 4})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	in := texts(20)
	var mu sync.Mutex
	var seen []int
	got, err := g.Generate(context.Background(), in, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 7 {
			t.Errorf("total = %d, want 7", total)
		}
		seen = append(seen, done)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("len = %d", len(got))
	}
	for i, v := range got {
		want, _ := rag.NormalizeL2([]float32{float32(i) + 1, 2})
		if math.Abs(float64(v[0]-want[0])) > 1e-6 || math.Abs(float64(v[1]-want[1])) > 1e-6 {
			t.Errorf("position %d: got %v want %v", i, v, want)
		}
	}
	for i, d := range seen {
		if d != i+1 {
			t.Fatalf("progress not monotonic: %v", seen)
		}
	}
}

func TestGenerator_BatchSizeDoesNotChangeVectors(t *testing.T) {
	t.Parallel()

	in := []string{"fever", "cough at night", "ibuprofen dosage", "低血压", "fever"}
	var results [][][]float32
	for _, bs := range []int{1, 2, 5, 32} {
		g, _ := NewGenerator(NewHashEmbedder(32), GeneratorConfig{BatchSize: bs, Workers: 2})
		got, err := g.Generate(context.Background(), in, nil)
		if err != nil {
			t.Fatalf("batch %d: %v", bs, err)
		}
		results = append(results, got)
	}
	for r := 1; r < len(results); r++ {
		for i := range in {
			for j := range results[0][i] {
				if results[r][i][j] != results[0][i][j] {
					t.Fatalf("vector %d differs between batch sizes", i)
				}
			}
		}
	}
}

func TestGenerator_VectorsAreUnitLength(t *testing.T) {
	t.Parallel()

	g, _ := NewGenerator(NewHashEmbedder(16), GeneratorConfig{})
	got, err := g.Generate(context.Background(), []string{"a b c", "blood sugar"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i, v := range got {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("vector %d has squared norm %v", i, sum)
		}
	}
}

func TestGenerator_FailingBatchIsIdentified(t *testing.T) {
	t.Parallel()

	g, _ := NewGenerator(&scriptedEmbedder{failOn: "t7"}, GeneratorConfig{BatchSize: 4, Workers: 1})
	_, err := g.Generate(context.Background(), texts(12), nil)

	var be *rag.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("want *rag.BatchError, got %v", err)
	}
	if be.Start != 4 || be.End != 8 {
		t.Errorf("batch range = [%d,%d), want [4,8)", be.Start, be.End)
	}
	if !errors.Is(err, rag.ErrEmbeddingFailure) {
		t.Error("want ErrEmbeddingFailure")
	}
}

func TestGenerator_CanceledBetweenBatches(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	emb := &scriptedEmbedder{}
	g, _ := NewGenerator(emb, GeneratorConfig{BatchSize: 1, Workers: 1})

	_, err := g.Generate(ctx, texts(50), func(done, _ int) {
		if done == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if n := emb.calls.Load(); n >= 50 {
		t.Errorf("expected dispatch to stop early, got %d calls", n)
	}
}

func TestGenerator_RejectsZeroVector(t *testing.T) {
	t.Parallel()

	g, _ := NewGenerator(zeroEmbedder{}, GeneratorConfig{})
	_, err := g.Generate(context.Background(), []string{"x"}, nil)
	if !errors.Is(err, rag.ErrEmbeddingFailure) {
		t.Errorf("want ErrEmbeddingFailure, got %v", err)
	}
	if _, err := g.EmbedQuery(context.Background(), "x"); err == nil {
		t.Error("EmbedQuery should reject a zero vector")
	}

	g, _ = NewGenerator(constEmbedder{0, 0, 0}, GeneratorConfig{})
	_, err = g.Generate(context.Background(), []string{"x", "y"}, nil)
	if !errors.Is(err, rag.ErrZeroVector) || !errors.Is(err, rag.ErrEmbeddingFailure) {
		t.Errorf("want ErrZeroVector inside ErrEmbeddingFailure, got %v", err)
	}
}

type constEmbedder []float32

func (c constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = c
	}
	return out, nil
}

type zeroEmbedder struct{}

func (zeroEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func TestGenerator_ModelID(t *testing.T) {
	t.Parallel()

	g, _ := NewGenerator(NewHashEmbedder(8), GeneratorConfig{})
	if g.ModelID() != "hash:fnv1a@8" {
		t.Errorf("ModelID = %q", g.ModelID())
	}
	g, _ = NewGenerator(zeroEmbedder{}, GeneratorConfig{})
	if g.ModelID() != "unknown" {
		t.Errorf("ModelID = %q", g.ModelID())
	}
	if _, err := NewGenerator(zeroEmbedder{}, GeneratorConfig{BatchSize: -1}); !errors.Is(err, rag.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

// fakeEino is a minimal eino embedding.Embedder.
type fakeEino struct{}

func (fakeEino) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.5, float64(i)}
	}
	return out, nil
}

func TestEinoEmbedder(t *testing.T) {
	t.Parallel()

	if _, err := NewEinoEmbedder(nil, "x"); err == nil {
		t.Error("expected error for nil inner embedder")
	}
	e, err := NewEinoEmbedder(fakeEino{}, "text-embedding-v3")
	if err != nil {
		t.Fatalf("NewEinoEmbedder: %v", err)
	}
	got, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got[1][0] != 0.5 || got[1][1] != 1 {
		t.Errorf("got %v", got)
	}
	if e.ModelID() != "eino:text-embedding-v3" {
		t.Errorf("ModelID = %q", e.ModelID())
	}
}
