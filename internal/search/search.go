// Package search merges lexical and vector retrieval over memory items into
// one tier-weighted ranking.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/store"
	"github.com/rcliao/novel-memory/internal/vecindex"
)

// Default result sizes.
const (
	DefaultLexicalK = 30
	DefaultVectorK  = 20
	DefaultTopK     = 30
)

// VectorFactor scales the vector contribution of an item also found lexically.
const VectorFactor = 0.5

// TierWeights rank tiers: identity first, episodic and profiles last.
var TierWeights = map[model.Tier]float64{
	model.TierIdentity: 1.0,
	model.TierRolling:  0.7,
	model.TierEpisodic: 0.5,
	model.TierProfile:  0.5,
}

func tierWeight(t model.Tier) float64 {
	if w, ok := TierWeights[t]; ok {
		return w
	}
	return 0.5
}

// LexicalSource runs ranked text queries and hydrates item ids.
type LexicalSource interface {
	SearchLexical(ctx context.Context, query string, tiers []model.Tier, limit int) ([]store.LexicalHit, error)
	ItemsByID(ctx context.Context, ids []string) (map[string]model.MemoryItem, error)
}

// VectorSource finds nearest items to an embedding.
type VectorSource interface {
	SearchVector(ctx context.Context, vec []float32, k int) ([]vecindex.Hit, error)
}

// Query is one hybrid search request. The vector side runs only when
// Embedding is set.
type Query struct {
	Text      string
	Embedding []float32
	Tiers     []model.Tier
	TopK      int
	LexicalK  int
	VectorK   int
}

// Result is one ranked memory item.
type Result struct {
	ItemID       string     `json:"item_id"`
	Tier         model.Tier `json:"tier"`
	SourcePath   string     `json:"source_path"`
	Summary      string     `json:"summary"`
	Content      string     `json:"content"`
	Score        float64    `json:"score"`
	LexicalScore float64    `json:"lexical_score"`
	VectorScore  float64    `json:"vector_score"`
	Evidence     string     `json:"evidence,omitempty"`
}

// Engine is the hybrid search engine. The vector source is optional.
type Engine struct {
	lex    LexicalSource
	vec    VectorSource
	logger *slog.Logger
}

// New returns an engine. vec may be nil.
func New(lex LexicalSource, vec VectorSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{lex: lex, vec: vec, logger: logger}
}

// Search runs the lexical query, the vector query when an embedding is given,
// and merges them. A failing vector side degrades to lexical-only results.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.LexicalK <= 0 {
		q.LexicalK = DefaultLexicalK
	}
	if q.VectorK <= 0 {
		q.VectorK = DefaultVectorK
	}

	lex, err := e.lex.SearchLexical(ctx, q.Text, q.Tiers, q.LexicalK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	var vec []vecindex.Hit
	if len(q.Embedding) > 0 && e.vec != nil {
		vec, err = e.vec.SearchVector(ctx, q.Embedding, q.VectorK)
		if err != nil {
			e.logger.Warn("vector search failed, using lexical results only", "error", err)
			vec = nil
		}
	}

	items := map[string]model.MemoryItem{}
	if len(vec) > 0 {
		seen := make(map[string]bool, len(lex))
		for _, h := range lex {
			seen[h.ItemID] = true
		}
		var ids []string
		for _, h := range vec {
			if !seen[h.ItemID] {
				ids = append(ids, h.ItemID)
			}
		}
		items, err = e.lex.ItemsByID(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load vector hits: %w", err)
		}
	}
	return Merge(lex, vec, items, q.Tiers, q.TopK), nil
}

// Merge combines lexical hits and vector hits. Each side's [0,1] score is
// multiplied by its tier weight; a vector hit for an item already found
// lexically adds VectorFactor of its weighted score. items hydrates vector-only
// hits; ids missing from it are dropped. Results are filtered to tiers (all
// when empty), sorted by score descending then id, and cut to topK.
func Merge(lex []store.LexicalHit, vec []vecindex.Hit, items map[string]model.MemoryItem, tiers []model.Tier, topK int) []Result {
	byID := make(map[string]*Result, len(lex)+len(vec))
	var order []string

	for _, h := range lex {
		if _, dup := byID[h.ItemID]; dup {
			continue
		}
		tier := model.Tier(h.Tier)
		s := clamp01(h.Score)
		byID[h.ItemID] = &Result{
			ItemID:       h.ItemID,
			Tier:         tier,
			SourcePath:   h.SourcePath,
			Summary:      h.Summary,
			Content:      h.Content,
			LexicalScore: s,
			Score:        s * tierWeight(tier),
			Evidence:     h.Evidence,
		}
		order = append(order, h.ItemID)
	}

	for _, h := range vec {
		s := clamp01(1 - h.Distance)
		if r, ok := byID[h.ItemID]; ok {
			if r.VectorScore == 0 {
				r.VectorScore = s
				r.Score += s * tierWeight(r.Tier) * VectorFactor
			}
			continue
		}
		it, ok := items[h.ItemID]
		if !ok {
			continue
		}
		byID[h.ItemID] = &Result{
			ItemID:      it.ID,
			Tier:        it.Tier,
			SourcePath:  it.SourcePath,
			Summary:     it.Summary,
			Content:     it.Content,
			VectorScore: s,
			Score:       s * tierWeight(it.Tier),
		}
		order = append(order, h.ItemID)
	}

	allowed := make(map[model.Tier]bool, len(tiers))
	for _, t := range tiers {
		allowed[t] = true
	}
	out := make([]Result, 0, len(order))
	for _, id := range order {
		r := byID[id]
		if len(allowed) > 0 && !allowed[r.Tier] {
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
