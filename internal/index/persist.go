package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/54b3r/healthrag/internal/rag"
)

// Artifact names inside an index directory.
const (
	VectorFile   = "vectors.f32"
	MetadataFile = "metadata.jsonl"
)

// FormatVersion is the on-disk format written by Persist.
const FormatVersion = 1

// vectorMagic opens every vector file.
var vectorMagic = [8]byte{'H', 'R', 'A', 'G', 'V', 'E', 'C', '1'}

// lockTimeout bounds how long Persist and Load wait for another process.
var lockTimeout = 30 * time.Second

// Manifest describes a persisted index. It is stored in the vector file
// header, ahead of the float data.
type Manifest struct {
	Provenance

	// FormatVersion is the on-disk format version.
	FormatVersion int `json:"format_version"`
	// CreatedAt is the RFC 3339 UTC time of the Persist call.
	CreatedAt string `json:"created_at,omitempty"`
	// Dim is the vector dimension.
	Dim int `json:"dim"`
	// Count is the number of vectors and metadata records.
	Count int `json:"count"`
}

// Persist writes the store to dir as a vector file and a metadata file.
// Both are written into a sibling temporary directory and swapped into
// place, so dir holds either the previous index or the new one, never a
// mix. An empty store is refused.
func (s *Store) Persist(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return fmt.Errorf("index: refusing to persist an empty index")
	}

	m := s.manifest
	m.FormatVersion = FormatVersion
	m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	m.Dim = s.dim
	m.Count = len(s.records)

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("index: create parent dir %s: %w", parent, err)
	}

	unlock, err := acquireLock(dir, false)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeVectors(filepath.Join(tmp, VectorFile), m, s.vectors); err != nil {
		return err
	}
	if err := writeMetadata(filepath.Join(tmp, MetadataFile), s.records); err != nil {
		return err
	}
	if err := atomicSwap(tmp, dir); err != nil {
		return fmt.Errorf("index: finalize %s: %w", dir, err)
	}
	return nil
}

// Load reconstructs a Store from dir. A missing directory or artifact is
// reported as rag.ErrIndexNotFound; anything unreadable or inconsistent
// (bad header, count mismatch, truncated vectors) as rag.ErrIndexCorrupt.
// When dir is absent but the backup left by an interrupted Persist is
// complete, the backup is loaded instead.
func Load(dir string) (*Store, error) {
	unlock, err := acquireLock(dir, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	src := dir
	if !complete(dir) && complete(backupDir(dir)) {
		src = backupDir(dir)
	}
	for _, name := range []string{VectorFile, MetadataFile} {
		p := filepath.Join(src, name)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("index: %s: %w", p, rag.ErrIndexNotFound)
			}
			return nil, fmt.Errorf("index: stat %s: %v: %w", p, err, rag.ErrIndexCorrupt)
		}
	}

	m, vectors, err := readVectors(filepath.Join(src, VectorFile))
	if err != nil {
		return nil, err
	}
	records, err := readMetadata(filepath.Join(src, MetadataFile))
	if err != nil {
		return nil, err
	}
	if len(records) != m.Count {
		return nil, fmt.Errorf("index: %d metadata records for %d vectors: %w", len(records), m.Count, rag.ErrIndexCorrupt)
	}

	return &Store{dim: m.Dim, vectors: vectors, records: records, manifest: m}, nil
}

// complete reports whether dir holds both artifacts.
func complete(dir string) bool {
	for _, name := range []string{VectorFile, MetadataFile} {
		if fi, err := os.Stat(filepath.Join(dir, name)); err != nil || !fi.Mode().IsRegular() {
			return false
		}
	}
	return true
}

func backupDir(dir string) string { return filepath.Clean(dir) + ".bak" }

func writeVectors(path string, m Manifest, vectors []float32) error {
	mb, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("index: encode manifest: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("index: create vector file: %w", err)
	}
	bw := bufio.NewWriter(f)
	err = errors.Join(
		binary.Write(bw, binary.LittleEndian, vectorMagic),
		binary.Write(bw, binary.LittleEndian, uint32(len(mb))),
		binary.Write(bw, binary.LittleEndian, mb),
		binary.Write(bw, binary.LittleEndian, vectors),
		bw.Flush(),
	)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("index: write vector file: %w", err)
	}
	return nil
}

func writeMetadata(path string, records []rag.Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("index: create metadata file: %w", err)
	}
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err = enc.Encode(r); err != nil {
			break
		}
	}
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("index: write metadata file: %w", err)
	}
	return nil
}

func readVectors(path string) (Manifest, []float32, error) {
	var m Manifest
	corrupt := func(format string, args ...any) (Manifest, []float32, error) {
		return Manifest{}, nil, fmt.Errorf("index: %s: %s: %w", path, fmt.Sprintf(format, args...), rag.ErrIndexCorrupt)
	}

	f, err := os.Open(path)
	if err != nil {
		return corrupt("open: %v", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return corrupt("stat: %v", err)
	}

	var header struct {
		Magic [8]byte
		Len   uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return corrupt("read header: %v", err)
	}
	if header.Magic != vectorMagic {
		return corrupt("bad magic %q", header.Magic[:])
	}
	headerSize := int64(len(vectorMagic)) + 4 + int64(header.Len)
	if headerSize > st.Size() {
		return corrupt("manifest length %d exceeds file size %d", header.Len, st.Size())
	}
	mb := make([]byte, header.Len)
	if _, err := io.ReadFull(f, mb); err != nil {
		return corrupt("read manifest: %v", err)
	}
	if err := json.NewDecoder(bytes.NewReader(mb)).Decode(&m); err != nil {
		return corrupt("decode manifest: %v", err)
	}
	if m.FormatVersion != FormatVersion {
		return corrupt("unsupported format version %d", m.FormatVersion)
	}
	if m.Dim <= 0 || m.Count <= 0 {
		return corrupt("invalid dim %d or count %d", m.Dim, m.Count)
	}

	want := int64(m.Count) * int64(m.Dim) * 4
	if got := st.Size() - headerSize; got != want {
		return corrupt("vector data is %d bytes, want %d (count=%d dim=%d)", got, want, m.Count, m.Dim)
	}
	vectors := make([]float32, m.Count*m.Dim)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, vectors); err != nil {
		return corrupt("read vectors: %v", err)
	}
	return m, vectors, nil
}

func readMetadata(path string) ([]rag.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %v: %w", path, err, rag.ErrIndexCorrupt)
	}
	defer f.Close()

	var out []rag.Metadata
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for line := 1; scanner.Scan(); line++ {
		b := scanner.Bytes()
		if len(b) == 0 {
			return nil, fmt.Errorf("index: %s:%d: blank line: %w", path, line, rag.ErrIndexCorrupt)
		}
		var r rag.Metadata
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("index: %s:%d: %v: %w", path, line, err, rag.ErrIndexCorrupt)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("index: read %s: %v: %w", path, err, rag.ErrIndexCorrupt)
	}
	return out, nil
}

// atomicSwap replaces destDir with srcDir by renaming, keeping the previous
// directory as a backup until the new one is in place. A backup without
// destDir is what an interrupted swap leaves behind; it is restored first so
// a failed rename can still roll back to it.
func atomicSwap(srcDir, destDir string) error {
	backup := backupDir(destDir)
	if _, err := os.Stat(destDir); errors.Is(err, fs.ErrNotExist) && complete(backup) {
		if err := os.Rename(backup, destDir); err != nil {
			return err
		}
	}
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}

// acquireLock takes an advisory lock on "<dir>.lock", shared for readers and
// exclusive for writers, retrying until lockTimeout. A reader that cannot
// create the lock file (read-only or missing parent) proceeds unlocked.
func acquireLock(dir string, shared bool) (func(), error) {
	lockPath := filepath.Clean(dir) + ".lock"
	l := flock.New(lockPath)
	deadline := time.Now().Add(lockTimeout)
	for {
		var (
			locked bool
			err    error
		)
		if shared {
			locked, err = l.TryRLock()
		} else {
			locked, err = l.TryLock()
		}
		if err != nil {
			if shared && lockUnavailable(err) {
				return func() {}, nil
			}
			return nil, fmt.Errorf("index: acquire lock %s: %w", lockPath, err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("index: another process holds %s", lockPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// lockUnavailable reports whether err means the lock file cannot be created
// at all, as opposed to the lock being contended.
func lockUnavailable(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EROFS)
}
