package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rcliao/novel-memory/internal/embedding"
)

// EmbeddingsFile is the fallback index file name inside a project directory.
const EmbeddingsFile = "embeddings.json"

// JSONIndex keeps vectors in a JSON file and scans them in process.
type JSONIndex struct {
	mu   sync.RWMutex
	path string
	doc  jsonDoc
}

type jsonDoc struct {
	Signature string      `json:"signature"`
	Dims      int         `json:"dims"`
	Items     []jsonEntry `json:"items"`
}

type jsonEntry struct {
	ItemID string    `json:"item_id"`
	Vector []float32 `json:"vector"`
}

// OpenJSON loads dir/embeddings.json. A missing or unreadable file yields an
// empty index that rebuilds on first use.
func OpenJSON(dir string) *JSONIndex {
	idx := &JSONIndex{path: filepath.Join(dir, EmbeddingsFile)}
	if raw, err := os.ReadFile(idx.path); err == nil {
		json.Unmarshal(raw, &idx.doc)
	}
	return idx
}

func (j *JSONIndex) Backend() string { return "json" }

func (j *JSONIndex) Close() error { return nil }

func (j *JSONIndex) Signature(context.Context) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.doc.Signature, nil
}

func (j *JSONIndex) Rebuild(_ context.Context, signature string, entries []Entry) error {
	dims, err := checkDims(entries)
	if err != nil {
		return err
	}
	doc := jsonDoc{Signature: signature, Dims: dims, Items: make([]jsonEntry, len(entries))}
	for i, e := range entries {
		doc.Items[i] = jsonEntry{ItemID: e.ItemID, Vector: e.Vector}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	j.doc = doc
	return nil
}

// Search returns the k closest items by cosine distance (1 - cosine similarity).
func (j *JSONIndex) Search(_ context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	hits := make([]Hit, 0, len(j.doc.Items))
	for _, it := range j.doc.Items {
		if len(it.Vector) != len(vec) {
			continue
		}
		hits = append(hits, Hit{ItemID: it.ItemID, Distance: 1 - embedding.CosineSimilarity(vec, it.Vector)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
