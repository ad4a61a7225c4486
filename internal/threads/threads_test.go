package threads

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/novel-memory/internal/model"
)

func chapter(n int, foreshadow, callbacks []string, text string) model.Chapter {
	return model.Chapter{
		Number: n,
		Plan:   &model.ChapterPlan{Foreshadowing: foreshadow, CallbackTargets: callbacks},
		Final:  text,
	}
}

func TestRecomputeCallbackVerbatim(t *testing.T) {
	chs := []model.Chapter{
		chapter(1, []string{"the bronze key hidden in the bell tower"}, nil, ""),
		chapter(2, nil, nil, "Rain over the market."),
		chapter(3, nil, []string{"Mara retrieves the bronze key hidden in the bell tower"}, ""),
	}
	got := Recompute(chs)
	require.Len(t, got, 1)
	assert.Equal(t, model.ThreadResolved, got[0].Status)
	assert.Equal(t, 3, got[0].ResolvedByChapter)
	assert.True(t, strings.HasPrefix(got[0].Evidence, "callback_target: "))
}

func TestRecomputeKeywordText(t *testing.T) {
	chs := []model.Chapter{
		chapter(1, []string{"silver locket"}, nil, ""),
		chapter(2, nil, nil, "Nothing of note."),
		chapter(4, nil, nil, "She opened the Locket at last."),
		chapter(5, nil, nil, "The silver locket again."),
	}
	got := Recompute(chs)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].ResolvedByChapter, "first later chapter wins")
	assert.Equal(t, "keyword match: locket", got[0].Evidence)
}

func TestRecomputeCallbackBeatsText(t *testing.T) {
	chs := []model.Chapter{
		chapter(1, []string{"crimson banner torn apart"}, nil, ""),
		chapter(2, nil, []string{"the crimson banner returns"}, "A crimson banner, torn apart, hangs in the hall."),
	}
	got := Recompute(chs)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ResolvedByChapter)
	assert.Equal(t, "callback_target: the crimson banner returns", got[0].Evidence)
}

func TestRecomputeOpenAndCleaned(t *testing.T) {
	chs := []model.Chapter{
		chapter(1, []string{"id: item", "", "a stranger watches from the pier"}, nil, ""),
		chapter(2, nil, nil, "Quiet morning."),
	}
	got := Recompute(chs)
	require.Len(t, got, 1)
	assert.Equal(t, model.ThreadOpen, got[0].Status)
	assert.Equal(t, "a stranger watches from the pier", got[0].Text)
	assert.Zero(t, got[0].ResolvedByChapter)
}

func TestRecomputeIdempotent(t *testing.T) {
	chs := []model.Chapter{
		chapter(3, nil, []string{"bronze key"}, ""),
		chapter(1, []string{"bronze key", "old debt"}, nil, ""),
		chapter(2, []string{"the lighthouse keeper lies"}, nil, "old debt"),
	}
	first := Recompute(chs)
	assert.Equal(t, first, Recompute(chs))
	assert.Equal(t, Render(first), Render(Recompute(chs)))
	// Input order does not matter.
	assert.Equal(t, first, Recompute([]model.Chapter{chs[1], chs[2], chs[0]}))
}

func TestSelect(t *testing.T) {
	threads := []model.OpenThread{
		{SourceChapter: 9, Text: "near thread", Status: model.ThreadOpen},
		{SourceChapter: 1, Text: "ancient", Status: model.ThreadOpen},
		{SourceChapter: 8, Text: "resolved one", Status: model.ThreadResolved},
		{SourceChapter: 7, Text: "with evidence", Status: model.ThreadOpen, Evidence: "seen"},
		{SourceChapter: 9, Text: "another near", Status: model.ThreadOpen},
	}
	got := Select(threads, 100, 10)
	for _, th := range got {
		assert.GreaterOrEqual(t, Confidence(th, 100), MinConfidence)
		assert.Equal(t, model.ThreadOpen, th.Status)
	}

	got = Select(threads, 10, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "another near", got[0].Text, "equal scores fall back to text order")
	assert.Equal(t, "near thread", got[1].Text)

	assert.Empty(t, Select(threads, 10, 0))
}

func TestSelectDropsLowConfidence(t *testing.T) {
	far := model.OpenThread{SourceChapter: 1, Text: "x", Status: model.ThreadOpen}
	assert.Less(t, Confidence(far, 200), MinConfidence)
	assert.Empty(t, Select([]model.OpenThread{far}, 200, 5))
}

func TestRenderParseRoundTrip(t *testing.T) {
	threads := []model.OpenThread{
		{SourceChapter: 1, Text: "bronze key", Status: model.ThreadResolved, ResolvedByChapter: 3, Evidence: "callback_target: bronze key"},
		{SourceChapter: 2, Text: "stranger\non the pier", Status: model.ThreadOpen},
	}
	doc := Render(threads)
	assert.Contains(t, doc, "- [Ch.2] stranger on the pier | evidence: pending")
	assert.Contains(t, doc, "- [Ch.1->Ch.3] bronze key | evidence: callback_target: bronze key")

	back := Parse(doc)
	require.Len(t, back, 2)
	assert.Equal(t, model.ThreadOpen, back[0].Status)
	assert.Equal(t, "stranger on the pier", back[0].Text)
	assert.Empty(t, back[0].Evidence)
	assert.Equal(t, 3, back[1].ResolvedByChapter)
	assert.Equal(t, doc, Render(back))
}

func TestRenderCapsResolved(t *testing.T) {
	var threads []model.OpenThread
	for i := 1; i <= 30; i++ {
		threads = append(threads, model.OpenThread{SourceChapter: 1, Text: fmt.Sprintf("t%d", i),
			Status: model.ThreadResolved, ResolvedByChapter: i + 1, Evidence: "e"})
	}
	doc := Render(threads)
	assert.Len(t, Parse(doc), MaxResolvedKept)
	assert.Contains(t, doc, "[Ch.1->Ch.31] t30")
	assert.NotContains(t, doc, "[Ch.1->Ch.2] t1 ")
	assert.Contains(t, doc, "_Total: 0 open, 30 resolved_")
}

type memStore struct {
	chapters []model.Chapter
	doc      string
}

func (m *memStore) Chapters(context.Context) ([]model.Chapter, error) { return m.chapters, nil }
func (m *memStore) ThreadsDoc() (string, error)                       { return m.doc, nil }
func (m *memStore) SetThreadsDoc(text string) error                   { m.doc = text; return nil }

func TestTrackerRefresh(t *testing.T) {
	s := &memStore{chapters: []model.Chapter{
		chapter(1, []string{"a sealed letter"}, nil, ""),
	}}
	tr := NewTracker(s)
	got, err := tr.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, s.doc, "[Ch.1] a sealed letter")

	stored, err := tr.Stored()
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}
