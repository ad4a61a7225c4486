package vecindex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/embedding"
	"github.com/rcliao/novel-memory/internal/model"
)

// embedRunes caps the text embedded per item.
const embedRunes = 2000

// ItemSource lists the memory items to index.
type ItemSource interface {
	Items(ctx context.Context, tiers ...model.Tier) ([]model.MemoryItem, error)
}

// Options configures a Manager.
type Options struct {
	Logger      *slog.Logger
	Concurrency int  // parallel embed calls during rebuild
	ForceJSON   bool // skip sqlite-vec
}

// Manager keeps the index in step with the item source.
type Manager struct {
	src      ItemSource
	embedder embedding.Embedder
	index    Index
	logger   *slog.Logger
	conc     int
	group    singleflight.Group
}

// NewManager opens the sqlite-vec backend under dir, falling back to the JSON
// file index when the extension cannot load.
func NewManager(dir string, src ItemSource, emb embedding.Embedder, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 4
	}
	var idx Index
	if !opts.ForceJSON {
		v, err := OpenSQLiteVec(dir)
		if err != nil {
			logger.Warn("vector backend unavailable, using json index", "error", err)
		} else {
			idx = v
		}
	}
	if idx == nil {
		idx = OpenJSON(dir)
	}
	return &Manager{src: src, embedder: emb, index: idx, logger: logger, conc: conc}
}

// Backend names the active index backend.
func (m *Manager) Backend() string { return m.index.Backend() }

// Embedder returns the embedder used for indexing and queries.
func (m *Manager) Embedder() embedding.Embedder { return m.embedder }

// Close releases the backend.
func (m *Manager) Close() error { return m.index.Close() }

func (m *Manager) embedderID() string {
	return fmt.Sprintf("%T/%s", m.embedder, strconv.Itoa(m.embedder.Dims()))
}

// Ensure rebuilds the index when the item signature differs from the stored
// one. Concurrent callers with the same signature share one rebuild. It
// reports whether a rebuild ran.
func (m *Manager) Ensure(ctx context.Context) (bool, error) {
	items, err := m.src.Items(ctx)
	if err != nil {
		return false, fmt.Errorf("list items: %w", err)
	}
	sig := Signature(items, m.embedderID())
	current, err := m.index.Signature(ctx)
	if err != nil {
		m.logger.Warn("read index signature", "error", err)
	}
	if current == sig {
		return false, nil
	}

	_, err, _ = m.group.Do(sig, func() (any, error) {
		if cur, _ := m.index.Signature(ctx); cur == sig {
			return nil, nil
		}
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = chunker.Runes(it.Summary+"\n"+it.Content, embedRunes)
		}
		vecs, err := embedding.EmbedAll(ctx, m.embedder, texts, m.conc)
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, len(items))
		for i, it := range items {
			entries[i] = Entry{ItemID: it.ID, Vector: vecs[i]}
		}
		if err := m.index.Rebuild(ctx, sig, entries); err != nil {
			return nil, err
		}
		m.logger.Info("vector index rebuilt", "backend", m.index.Backend(), "items", len(entries))
		return nil, nil
	})
	if err != nil {
		return false, fmt.Errorf("rebuild index: %w", err)
	}
	return true, nil
}

// Search embeds query and returns its k nearest items, ensuring the index is
// current first.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.SearchVector(ctx, vec, k)
}

// SearchVector returns the k nearest items to vec.
func (m *Manager) SearchVector(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if _, err := m.Ensure(ctx); err != nil {
		return nil, err
	}
	return m.index.Search(ctx, vec, k)
}
