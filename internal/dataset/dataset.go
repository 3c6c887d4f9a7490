// Package dataset resolves and reads the medical question/answer dataset the
// index is built from. Each record becomes one rag.Document.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/54b3r/healthrag/internal/rag"
)

// DefaultPaths are the candidate dataset locations probed when none are
// configured, relative to the working directory.
var DefaultPaths = []string{
	"data/medical_dataset/train.json",
	"../data/medical_dataset/train.json",
	"../../data/medical_dataset/train.json",
}

// Record is one entry of the source dataset.
type Record struct {
	// Question is the patient question.
	Question string `json:"Question"`
	// Reasoning is the clinician's chain of thought.
	Reasoning string `json:"Complex_CoT"`
	// Response is the final answer.
	Response string `json:"Response"`
}

// Resolve returns the first candidate that exists as a regular file. When
// none does, the error wraps rag.ErrDatasetNotFound and lists every path
// tried.
func Resolve(candidates []string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultPaths
	}
	for _, p := range candidates {
		st, err := os.Stat(p)
		if err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("dataset: tried %s: %w", strings.Join(candidates, ", "), rag.ErrDatasetNotFound)
}

// Load reads the dataset at path and converts each record into a Document.
// ".jsonl" files are read one record per line; anything else as a JSON array.
func Load(path string) ([]rag.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("dataset: %s: %w", path, rag.ErrDatasetNotFound)
		}
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	var recs []Record
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		recs, err = decodeLines(f)
	} else {
		err = json.NewDecoder(bufio.NewReader(f)).Decode(&recs)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: decode %s: %w", path, err)
	}

	base := filepath.Base(path)
	docs := make([]rag.Document, 0, len(recs))
	for i, r := range recs {
		docs = append(docs, r.Document(base, i))
	}
	return docs, nil
}

func decodeLines(r io.Reader) ([]Record, error) {
	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for line := 1; scanner.Scan(); line++ {
		b := scanner.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// Document builds the Document for the record at position index of the file
// named source. Sections that are empty are left out of the body.
func (r Record) Document(source string, index int) rag.Document {
	q := clean(r.Question)
	reasoning := clean(r.Reasoning)
	a := clean(r.Response)

	var parts []string
	if q != "" {
		parts = append(parts, "Question: "+q)
	}
	if reasoning != "" {
		parts = append(parts, "Reasoning: "+reasoning)
	}
	if a != "" {
		parts = append(parts, "Answer: "+a)
	}

	return rag.Document{
		ID:   source + "#" + strconv.Itoa(index),
		Text: strings.Join(parts, "\n\n"),
		Fields: map[string]string{
			"source":   source,
			"record":   strconv.Itoa(index),
			"question": q,
			"answer":   a,
		},
	}
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
