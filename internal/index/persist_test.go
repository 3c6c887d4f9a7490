package index

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/54b3r/healthrag/internal/rag"
)

func populated(t *testing.T) *Store {
	t.Helper()
	s := New()
	recs := records(4)
	recs[2].Tags = map[string]string{"topic": "medication", "question": "布洛芬的剂量?"}
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0.6, 0.8, 0}, {0, 0.6, 0.8}}
	if err := s.Populate(vecs, recs); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	s.SetProvenance(Provenance{ModelID: "hash:fnv1a@3", ChunkSize: 1000, ChunkOverlap: 200, DatasetPath: "data/train.json"})
	return s
}

func TestPersistLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vector_db")
	s := populated(t)
	if err := s.Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 4 || loaded.Dim() != 3 {
		t.Fatalf("loaded len %d dim %d", loaded.Len(), loaded.Dim())
	}
	m := loaded.Manifest()
	if m.ModelID != "hash:fnv1a@3" || m.ChunkSize != 1000 || m.Count != 4 || m.FormatVersion != FormatVersion || m.CreatedAt == "" {
		t.Errorf("manifest = %+v", m)
	}

	for _, q := range [][]float32{{1, 0, 0}, {0, 0.6, 0.8}, {0.6, 0, 0.8}} {
		want, _ := s.Search(q, 4)
		got, _ := loaded.Search(q, 4)
		for i := range want {
			if want[i].Position != got[i].Position || want[i].Score != got[i].Score {
				t.Fatalf("query %v result %d: got %+v want %+v", q, i, got[i], want[i])
			}
			if got[i].Record.Text != want[i].Record.Text || got[i].Record.Tags["question"] != want[i].Record.Tags["question"] {
				t.Fatalf("record mismatch at %d", i)
			}
		}
	}
}

func TestPersist_ReplacesPreviousIndex(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vector_db")
	if err := populated(t).Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	s := New()
	_ = s.Populate([][]float32{{1, 1}}, records(1))
	if err := s.Persist(dir); err != nil {
		t.Fatalf("second Persist: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 || loaded.Dim() != 2 {
		t.Errorf("expected replaced index, got len %d dim %d", loaded.Len(), loaded.Dim())
	}

	entries, _ := os.ReadDir(filepath.Dir(dir))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") || strings.HasSuffix(e.Name(), ".bak") {
			t.Errorf("leftover artifact %s", e.Name())
		}
	}
}

func TestPersist_EmptyStoreRefused(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vector_db")
	if err := New().Persist(dir); err == nil {
		t.Fatal("expected error persisting an empty store")
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("nothing should be written, stat err = %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if _, err := Load(filepath.Join(root, "nope")); !errors.Is(err, rag.ErrIndexNotFound) {
		t.Errorf("missing dir: want ErrIndexNotFound, got %v", err)
	}

	dir := filepath.Join(root, "vector_db")
	if err := populated(t).Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, MetadataFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, rag.ErrIndexNotFound) {
		t.Errorf("missing metadata: want ErrIndexNotFound, got %v", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mangle func(t *testing.T, dir string)
	}{
		{
			name: "extra metadata line",
			mangle: func(t *testing.T, dir string) {
				f, err := os.OpenFile(filepath.Join(dir, MetadataFile), os.O_APPEND|os.O_WRONLY, 0)
				if err != nil {
					t.Fatal(err)
				}
				_, _ = f.WriteString(`{"source_id":"x","chunk_id":"x/0","seq":0,"start":0,"end":1,"text":"x"}` + "\n")
				_ = f.Close()
			},
		},
		{
			name: "truncated vectors",
			mangle: func(t *testing.T, dir string) {
				p := filepath.Join(dir, VectorFile)
				st, _ := os.Stat(p)
				if err := os.Truncate(p, st.Size()-4); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "bad magic",
			mangle: func(t *testing.T, dir string) {
				p := filepath.Join(dir, VectorFile)
				b, _ := os.ReadFile(p)
				copy(b, "NOTMAGIC")
				_ = os.WriteFile(p, b, 0o644)
			},
		},
		{
			name: "manifest length past end",
			mangle: func(t *testing.T, dir string) {
				p := filepath.Join(dir, VectorFile)
				b, _ := os.ReadFile(p)
				binary.LittleEndian.PutUint32(b[8:12], 1<<30)
				_ = os.WriteFile(p, b, 0o644)
			},
		},
		{
			name: "garbage metadata",
			mangle: func(t *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, MetadataFile), []byte("not json\n"), 0o644)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := filepath.Join(t.TempDir(), "vector_db")
			if err := populated(t).Persist(dir); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			tt.mangle(t, dir)
			if _, err := Load(dir); !errors.Is(err, rag.ErrIndexCorrupt) {
				t.Errorf("want ErrIndexCorrupt, got %v", err)
			}
		})
	}
}

func TestLoad_WaitsForInFlightSwap(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vector_db")
	if err := populated(t).Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Hold the writer lock with dir moved aside, as atomicSwap does between
	// its two renames.
	unlock, err := acquireLock(dir, false)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	aside := dir + ".moving"
	if err := os.Rename(dir, aside); err != nil {
		t.Fatal(err)
	}

	type result struct {
		s   *Store
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := Load(dir)
		done <- result{s, err}
	}()

	time.Sleep(250 * time.Millisecond)
	select {
	case r := <-done:
		t.Fatalf("Load returned while the writer lock was held: %v", r.err)
	default:
	}

	if err := os.Rename(aside, dir); err != nil {
		t.Fatal(err)
	}
	unlock()

	r := <-done
	if r.err != nil {
		t.Fatalf("Load after swap: %v", r.err)
	}
	if r.s.Len() != 4 {
		t.Errorf("loaded %d records, want 4", r.s.Len())
	}
}

func TestLoad_FallsBackToSwapBackup(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vector_db")
	if err := populated(t).Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	// A crash after the first rename of a swap leaves only the backup.
	if err := os.Rename(dir, backupDir(dir)); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 4 || loaded.Dim() != 3 {
		t.Errorf("loaded len %d dim %d", loaded.Len(), loaded.Dim())
	}
}

func TestPersist_AfterInterruptedSwap(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "vector_db")
	if err := populated(t).Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := os.Rename(dir, backupDir(dir)); err != nil {
		t.Fatal(err)
	}

	s := New()
	_ = s.Populate([][]float32{{1, 1}}, records(1))
	if err := s.Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("loaded len %d, want the new index", loaded.Len())
	}
	if _, err := os.Stat(backupDir(dir)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backup left behind: %v", err)
	}
}

func TestLoad_MissingParentIsNotFound(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b", "vector_db")
	if _, err := Load(dir); !errors.Is(err, rag.ErrIndexNotFound) {
		t.Errorf("want ErrIndexNotFound, got %v", err)
	}
}

func TestLoad_ReadOnlyParent(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	t.Parallel()

	parent := t.TempDir()
	dir := filepath.Join(parent, "vector_db")
	if err := populated(t).Persist(dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := os.Remove(dir + ".lock"); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(parent, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load from read-only parent: %v", err)
	}
	if loaded.Len() != 4 {
		t.Errorf("loaded len %d", loaded.Len())
	}
}

func TestLockUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"missing parent", &fs.PathError{Op: "open", Path: "x.lock", Err: syscall.ENOENT}, true},
		{"permission denied", &fs.PathError{Op: "open", Path: "x.lock", Err: syscall.EACCES}, true},
		{"read-only filesystem", &fs.PathError{Op: "open", Path: "x.lock", Err: syscall.EROFS}, true},
		{"other", errors.New("flock: interrupted"), false},
	}
	for _, tt := range tests {
		if got := lockUnavailable(tt.err); got != tt.want {
			t.Errorf("%s: lockUnavailable = %v, want %v", tt.name, got, tt.want)
		}
	}
}
