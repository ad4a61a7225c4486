// Package vecindex keeps a nearest-neighbour index over memory item embeddings.
// The index is rebuilt wholesale whenever the signature of the indexed items
// changes.
package vecindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/rcliao/novel-memory/internal/model"
)

// Hit is one nearest-neighbour result. Distance is cosine distance, lower is closer.
type Hit struct {
	ItemID   string  `json:"item_id"`
	Distance float64 `json:"distance"`
}

// Entry is one vector to index.
type Entry struct {
	ItemID string
	Vector []float32
}

// Index is a vector index backend.
type Index interface {
	// Signature returns the signature stored with the current contents, or "".
	Signature(ctx context.Context) (string, error)
	// Rebuild replaces all contents and records signature.
	Rebuild(ctx context.Context, signature string, entries []Entry) error
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	Backend() string
	Close() error
}

// Signature fingerprints the indexed item set and the embedder producing the
// vectors. Any added, removed or edited item changes it.
func Signature(items []model.MemoryItem, embedderID string) string {
	sorted := make([]model.MemoryItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	h.Write([]byte(embedderID))
	for _, it := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(it.ID))
		h.Write([]byte{0})
		h.Write([]byte(it.Summary))
		h.Write([]byte{0})
		h.Write([]byte(it.Content))
	}
	h.Write([]byte(strconv.Itoa(len(sorted))))
	return hex.EncodeToString(h.Sum(nil))
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ItemID < hits[j].ItemID
	})
}

func checkDims(entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	dims := len(entries[0].Vector)
	for _, e := range entries {
		if len(e.Vector) != dims {
			return 0, fmt.Errorf("item %s has %d dims, want %d", e.ItemID, len(e.Vector), dims)
		}
	}
	return dims, nil
}
