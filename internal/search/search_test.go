package search

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/novel-memory/internal/embedding"
	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/store"
	"github.com/rcliao/novel-memory/internal/vecindex"
)

func TestMergeWeightsAndOrder(t *testing.T) {
	lex := []store.LexicalHit{
		{ItemID: "id", Tier: "L1", Score: 0.6},
		{ItemID: "ep", Tier: "L3", Score: 1.0},
		{ItemID: "mem", Tier: "L2", Score: 1.0},
	}
	got := Merge(lex, nil, nil, nil, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "mem", got[0].ItemID) // 0.7
	assert.Equal(t, "id", got[1].ItemID)  // 0.6
	assert.Equal(t, "ep", got[2].ItemID)  // 0.5
	assert.InDelta(t, 0.7, got[0].Score, 1e-9)
}

func TestMergeVectorContribution(t *testing.T) {
	lex := []store.LexicalHit{{ItemID: "a", Tier: "L2", Score: 0.5}}
	vec := []vecindex.Hit{
		{ItemID: "a", Distance: 0.2},
		{ItemID: "b", Distance: 0.1},
		{ItemID: "ghost", Distance: 0},
	}
	items := map[string]model.MemoryItem{"b": {ID: "b", Tier: model.TierEpisodic, Summary: "b"}}

	got := Merge(lex, vec, items, nil, 10)
	require.Len(t, got, 2, "ghost ids absent from the store are dropped")

	byID := map[string]Result{}
	for _, r := range got {
		byID[r.ItemID] = r
	}
	// a: 0.5*0.7 + 0.8*0.7*0.5
	assert.InDelta(t, 0.35+0.28, byID["a"].Score, 1e-9)
	assert.InDelta(t, 0.8, byID["a"].VectorScore, 1e-9)
	// b: vector only, full weight
	assert.InDelta(t, 0.9*0.5, byID["b"].Score, 1e-9)
}

func TestMergeFilterAndTopK(t *testing.T) {
	lex := []store.LexicalHit{
		{ItemID: "a", Tier: "L1", Score: 1},
		{ItemID: "b", Tier: "L2", Score: 1},
		{ItemID: "c", Tier: "L2", Score: 0.9},
		{ItemID: "d", Tier: "L3", Score: 1},
	}
	got := Merge(lex, nil, nil, []model.Tier{model.TierRolling, model.TierEpisodic}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ItemID)
	assert.Equal(t, "c", got[1].ItemID)
}

func TestMergeClampsAndTies(t *testing.T) {
	lex := []store.LexicalHit{
		{ItemID: "z", Tier: "L2", Score: 3},
		{ItemID: "y", Tier: "L2", Score: 1},
	}
	got := Merge(lex, []vecindex.Hit{{ItemID: "y", Distance: 1.7}}, nil, nil, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "y", got[0].ItemID, "equal scores order by id")
	assert.Equal(t, 1.0, got[1].LexicalScore)
	assert.Equal(t, 0.0, got[0].VectorScore)
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge(nil, nil, nil, nil, 5))
}

type failingVectors struct{}

func (failingVectors) SearchVector(context.Context, []float32, int) ([]vecindex.Hit, error) {
	return nil, errors.New("backend down")
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "p"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.SetIdentity("# Identity\n\nThe bronze key opens the vault. Magic cannot raise the dead."))
	require.NoError(t, s.UpsertChapterEntry(1, "Mara hides the bronze key in the bell tower."))
	_, err = s.AddEpisode(model.Episode{Chapter: 1, Type: model.EpisodeSynopsis, Summary: "tower",
		Content: "Mara climbs the bell tower with the bronze key."})
	require.NoError(t, err)
	_, err = s.Sync(context.Background())
	require.NoError(t, err)
	return s
}

func TestEngineLexicalOnly(t *testing.T) {
	s := newStore(t)
	e := New(s, nil, nil)

	got, err := e.Search(context.Background(), Query{Text: "bronze key", TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Score > got[j].Score }))
	tiers := map[model.Tier]bool{}
	for _, r := range got {
		tiers[r.Tier] = true
		assert.Zero(t, r.VectorScore)
	}
	assert.True(t, tiers[model.TierIdentity])
}

func TestEngineToleratesVectorFailure(t *testing.T) {
	s := newStore(t)
	e := New(s, failingVectors{}, nil)

	got, err := e.Search(context.Background(), Query{Text: "bronze", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestEngineHybrid(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	emb := embedding.NewOffline(256)
	m := vecindex.NewManager(t.TempDir(), s, emb, vecindex.Options{ForceJSON: true})
	defer m.Close()

	items, err := s.Items(ctx, model.TierEpisodic)
	require.NoError(t, err)
	require.Len(t, items, 1)
	qv, _ := emb.Embed(ctx, items[0].Summary+"\n"+items[0].Content)

	e := New(s, m, nil)
	got, err := e.Search(ctx, Query{Text: "zzqxv", Embedding: qv, TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, items[0].ID, got[0].ItemID)
	assert.InDelta(t, 0.5, got[0].Score, 1e-6)
}
