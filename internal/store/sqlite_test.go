package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/novel-memory/internal/model"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "proj"), Options{Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesLayout(t *testing.T) {
	s := newTestStore(t)
	for _, rel := range []string{IdentityPath, RuntimePath, MemoryPath, ThreadsPath, EpisodeDir, LogDir, DBFile} {
		if _, err := os.Stat(s.path(rel)); err != nil {
			t.Errorf("expected %s to exist: %v", rel, err)
		}
	}
	id, err := s.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if !strings.Contains(id, "## World Rules") {
		t.Errorf("expected default identity template, got %q", id)
	}
}

func TestOpenKeepsExistingDocuments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.SetIdentity("# Custom")
	s.Close()

	s2, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, _ := s2.Identity()
	if got != "# Custom" {
		t.Errorf("reopen overwrote identity: %q", got)
	}
}

func TestUpsertChapterEntry(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertChapterEntry(1, "first entry"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertChapterEntry(2, "other chapter"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertChapterEntry(1, "second entry"); err != nil {
		t.Fatal(err)
	}

	mem, _ := s.RollingMemory()
	if n := strings.Count(mem, "### Chapter 1\n"); n != 1 {
		t.Errorf("expected one chapter 1 section, got %d in %q", n, mem)
	}
	if strings.Contains(mem, "first entry") || !strings.Contains(mem, "second entry") {
		t.Errorf("chapter 1 not replaced: %q", mem)
	}
	if !strings.Contains(mem, "other chapter") {
		t.Errorf("chapter 2 lost: %q", mem)
	}
	if strings.Index(mem, "## "+ChapterDecisions) > strings.Index(mem, "### Chapter 1") {
		t.Errorf("entry written above its parent: %q", mem)
	}
}

func TestRemoveChapterEntry(t *testing.T) {
	s := newTestStore(t)
	s.UpsertChapterEntry(1, "keep me")
	s.UpsertChapterEntry(2, "drop me")

	removed, err := s.RemoveChapterEntry(2)
	if err != nil || !removed {
		t.Fatalf("remove chapter 2: removed=%v err=%v", removed, err)
	}
	mem, _ := s.RollingMemory()
	if strings.Contains(mem, "drop me") || strings.Contains(mem, "### Chapter 2") {
		t.Errorf("chapter 2 still present: %q", mem)
	}
	if !strings.Contains(mem, "keep me") {
		t.Errorf("chapter 1 lost: %q", mem)
	}
	if strings.Contains(mem, "\n\n\n") {
		t.Errorf("blank lines not collapsed: %q", mem)
	}

	removed, err = s.RemoveChapterEntry(7)
	if err != nil || removed {
		t.Errorf("remove missing entry: removed=%v err=%v", removed, err)
	}
}

func TestChapterOfHeading(t *testing.T) {
	tests := []struct {
		heading string
		want    int
	}{
		{"Chapter 3", 3},
		{"Chapter 12: The Vault", 12},
		{"Chapter Decisions", 0},
		{"Prologue", 0},
	}
	for _, tt := range tests {
		if got := ChapterOfHeading(tt.heading); got != tt.want {
			t.Errorf("ChapterOfHeading(%q) = %d, want %d", tt.heading, got, tt.want)
		}
	}
}

func TestEpisodesReplaceSameChapterAndType(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddEpisode(model.Episode{Chapter: 2, Type: model.EpisodeSynopsis, Summary: "old", Content: "old body"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEpisode(model.Episode{Chapter: 1, Type: model.EpisodeSynopsis, Summary: "one", Content: "ch1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEpisode(model.Episode{Chapter: 2, Type: model.EpisodeSummary, Summary: "sum", Content: "summary"}); err != nil {
		t.Fatal(err)
	}
	ep, err := s.AddEpisode(model.Episode{Chapter: 2, Type: model.EpisodeSynopsis, Summary: "new", Content: "new body"})
	if err != nil {
		t.Fatal(err)
	}
	if ep.ID == "" || ep.CreatedAt.IsZero() {
		t.Errorf("expected id and created_at, got %+v", ep)
	}

	syn, err := s.Episodes(model.EpisodeSynopsis)
	if err != nil {
		t.Fatal(err)
	}
	if len(syn) != 2 {
		t.Fatalf("expected 2 synopses, got %d", len(syn))
	}
	if syn[0].Chapter != 1 || syn[1].Chapter != 2 {
		t.Errorf("expected chapter order, got %d,%d", syn[0].Chapter, syn[1].Chapter)
	}
	if syn[1].Content != "new body" || syn[1].Summary != "new" {
		t.Errorf("expected replaced synopsis, got %+v", syn[1])
	}

	all, _ := s.Episodes("")
	if len(all) != 3 {
		t.Errorf("expected 3 episodes, got %d", len(all))
	}

	n, err := s.DeleteEpisodes(2)
	if err != nil || n != 2 {
		t.Errorf("DeleteEpisodes = %d, %v", n, err)
	}
}

func TestEpisodesSkipMalformed(t *testing.T) {
	s := newTestStore(t)
	os.WriteFile(s.path(EpisodeDir+"/broken.md"), []byte("no frontmatter"), 0o644)
	s.AddEpisode(model.Episode{Chapter: 1, Summary: "ok", Content: "fine"})

	eps, err := s.Episodes("")
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 1 {
		t.Errorf("expected malformed episode skipped, got %d", len(eps))
	}
}

func TestDecodeEpisodeWithByteOrderMark(t *testing.T) {
	raw, err := encodeEpisode(model.Episode{ID: "e1", Chapter: 4, Type: model.EpisodeSynopsis, Summary: "storm", Content: "The storm breaks."})
	if err != nil {
		t.Fatal(err)
	}
	ep, err := decodeEpisode(append([]byte("\ufeff\n"), raw...))
	if err != nil {
		t.Fatalf("decode with BOM: %v", err)
	}
	if ep.ID != "e1" || ep.Chapter != 4 || ep.Content != "The storm breaks." {
		t.Errorf("unexpected episode %+v", ep)
	}
}

func TestSyncMirrorsDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.SetIdentity("# Identity\n\nThe moon never rises over the bronze city.")
	s.AppendLog("planned chapter 1")
	s.AddEpisode(model.Episode{Chapter: 1, Type: model.EpisodeSynopsis, Summary: "Mara finds the key", Content: "Mara finds the bronze key."})
	s.UpsertProfile(ctx, model.CharacterProfile{ID: "p1", Name: "Mara", Overview: "A locksmith.", OverrideSource: model.OverrideExtracted})

	rep, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// identity, runtime, memory, threads, one log, one episode, one profile
	if rep.Synced != 7 {
		t.Errorf("expected 7 synced docs, got %d", rep.Synced)
	}

	l1, _ := s.Items(ctx, model.TierIdentity)
	if len(l1) != 2 {
		t.Fatalf("expected 2 L1 items, got %d", len(l1))
	}
	var identity model.MemoryItem
	for _, it := range l1 {
		if it.SourcePath == IdentityPath {
			identity = it
		}
	}
	if identity.Importance != 9 || identity.Recency != 2 {
		t.Errorf("identity weights = %d/%d, want 9/2", identity.Importance, identity.Recency)
	}
	if identity.ID != ItemID(IdentityPath) {
		t.Errorf("expected deterministic id")
	}
	if !strings.HasPrefix(identity.Summary, "Identity [sha1:") {
		t.Errorf("unexpected summary %q", identity.Summary)
	}

	l4, _ := s.Items(ctx, model.TierProfile)
	if len(l4) != 1 || len(l4[0].Entities) != 1 || l4[0].Entities[0] != "Mara" {
		t.Errorf("expected mirrored profile, got %+v", l4)
	}

	// Re-sync is idempotent.
	rep, err = s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	all, _ := s.Items(ctx)
	if len(all) != 7 || rep.Removed != 0 {
		t.Errorf("resync: %d items, %d removed", len(all), rep.Removed)
	}

	// Removing a source removes its row.
	s.DeleteEpisodes(1)
	rep, _ = s.Sync(ctx)
	if rep.Removed != 1 {
		t.Errorf("expected 1 stale row removed, got %d", rep.Removed)
	}
}

func TestSyncPurgesOldLogs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := s.path(LogDir + "/2026-01-01.md")
	os.WriteFile(old, []byte("## old\n\nancient"), 0o644)
	s.AppendLog("today")

	rep, err := s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.PurgedLogs) != 1 || rep.PurgedLogs[0] != "2026-01-01.md" {
		t.Errorf("expected old log purged, got %v", rep.PurgedLogs)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("old log still on disk")
	}
	if _, err := os.Stat(s.path(LogDir + "/2026-03-15.md")); err != nil {
		t.Errorf("today's log removed: %v", err)
	}
}

func TestCompact(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 4; i++ {
		s.UpsertChapterEntry(i, "decisions of chapter "+string(rune('0'+i)))
	}
	var threads []model.OpenThread
	for i := 1; i <= 7; i++ {
		threads = append(threads, model.OpenThread{SourceChapter: i, Text: "thread " + string(rune('a'+i)), Status: model.ThreadOpen})
	}

	done, err := s.Compact(4, threads)
	if err != nil || done {
		t.Fatalf("chapter 4 is off-interval: done=%v err=%v", done, err)
	}

	done, err = s.Compact(3, threads)
	if err != nil || !done {
		t.Fatalf("expected compaction at chapter 3: done=%v err=%v", done, err)
	}

	mem, _ := s.RollingMemory()
	if strings.Contains(mem, "### Chapter 1") {
		t.Errorf("chapter 1 should fall out of the window: %q", mem)
	}
	for _, want := range []string{"### Chapter 2", "### Chapter 3", "### Chapter 4", "## " + UnresolvedHeading} {
		if !strings.Contains(mem, want) {
			t.Errorf("missing %q in %q", want, mem)
		}
	}
	if n := strings.Count(mem, "- [ch"); n != DefaultUnresolvedInMemory {
		t.Errorf("expected %d unresolved threads, got %d", DefaultUnresolvedInMemory, n)
	}

	legacy, err := os.ReadFile(s.path(LegacyPath))
	if err != nil {
		t.Fatalf("legacy backup missing: %v", err)
	}
	if !strings.Contains(string(legacy), "### Chapter 1") {
		t.Errorf("legacy backup should hold the full document")
	}

	// Every compaction rewrites the backup.
	s.Compact(6, nil)
	legacy, _ = os.ReadFile(s.path(LegacyPath))
	if strings.Contains(string(legacy), "### Chapter 1") {
		t.Errorf("expected backup of the compacted document")
	}
}

func TestUpsertEntityMerges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertEntity(ctx, model.EntityState{Name: "Lin Yuan", FirstSeenChapter: 3, LastSeenChapter: 3,
		Attrs: map[string]any{model.AttrAbilities: []string{"sword"}}})
	if err != nil {
		t.Fatal(err)
	}
	s.UpsertEntity(ctx, model.EntityState{Name: "lin  yuan", FirstSeenChapter: 1, LastSeenChapter: 5,
		Attrs: map[string]any{model.AttrIsDead: true, model.AttrAbilities: []string{"fire"}}})
	got, err := s.UpsertEntity(ctx, model.EntityState{Name: "Lin Yuan", FirstSeenChapter: 2,
		Attrs: map[string]any{model.AttrIsDead: false}})
	if err != nil {
		t.Fatal(err)
	}

	if got.FirstSeenChapter != 1 || got.LastSeenChapter != 5 {
		t.Errorf("span = [%d,%d], want [1,5]", got.FirstSeenChapter, got.LastSeenChapter)
	}
	all, _ := s.Entities(ctx, model.EntityCharacter)
	if len(all) != 1 {
		t.Fatalf("expected one merged entity, got %d", len(all))
	}
	if !all[0].IsDead() {
		t.Errorf("death must not be cleared")
	}
	if ab := all[0].Abilities(); len(ab) != 2 || ab[0] != "sword" || ab[1] != "fire" {
		t.Errorf("abilities = %v", ab)
	}
}

func TestReplaceChapterEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	when := time.Date(1923, 4, 1, 0, 0, 0, 0, time.UTC)

	s.ReplaceChapterEvents(ctx, 1, []model.EventEdge{{Subject: "Mara", Relation: model.RelationFriend, Object: "Jon", Confidence: 0.65}})
	s.ReplaceChapterEvents(ctx, 2, []model.EventEdge{{Subject: "Mara", Relation: model.RelationRelated, Object: "Vault", Timestamp: &when}})
	if err := s.ReplaceChapterEvents(ctx, 1, []model.EventEdge{
		{Subject: "Mara", Relation: model.RelationEnemy, Object: "Jon"},
		{Subject: "Jon", Relation: model.RelationEnemy, Object: "Mara"},
	}); err != nil {
		t.Fatal(err)
	}

	events, err := s.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for _, e := range events {
		if e.Chapter == 1 && e.Relation != model.RelationEnemy {
			t.Errorf("chapter 1 events not replaced: %+v", e)
		}
		if e.Chapter == 2 && (e.Timestamp == nil || e.Timestamp.Year() != 1923) {
			t.Errorf("story timestamp lost: %+v", e)
		}
	}

	s.DeleteChapterEvents(ctx, 1)
	events, _ = s.Events(ctx)
	if len(events) != 1 {
		t.Errorf("expected 1 event after delete, got %d", len(events))
	}
}

func TestChapters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &model.Chapter{Number: 1, Title: "Arrival", Draft: "Mara said hello",
		Plan: &model.ChapterPlan{Title: "Arrival", Beats: []string{"open"}}}
	if err := s.SaveChapter(ctx, c); err != nil {
		t.Fatal(err)
	}
	if c.WordCount != 3 || c.Status != model.StatusDraft {
		t.Errorf("unexpected chapter %+v", c)
	}
	id := c.ID

	again := &model.Chapter{Number: 1, Title: "Arrival II", Final: "done"}
	s.SaveChapter(ctx, again)
	if again.ID != id {
		t.Errorf("resave changed id %s -> %s", id, again.ID)
	}
	s.SaveChapter(ctx, &model.Chapter{Number: 2, Title: "Vault"})

	got, err := s.Chapter(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Arrival II" || got.Text() != "done" {
		t.Errorf("unexpected chapter %+v", got)
	}

	list, _ := s.Chapters(ctx)
	if len(list) != 2 || list[0].Number != 1 {
		t.Errorf("unexpected list %+v", list)
	}

	if _, err := s.Chapter(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteChapter(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteChapter(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSaveConflictsKeepsExempted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p0 := model.Conflict{ID: "c-p0", Severity: model.SeverityP0, RuleID: "R2", Reason: "dead", EvidencePaths: []string{"entity:Mara"}}
	p1 := model.Conflict{ID: "c-p1", Severity: model.SeverityP1, RuleID: "R1", Reason: "timeline"}
	if err := s.SaveConflicts(ctx, 2, []model.Conflict{p0, p1}); err != nil {
		t.Fatal(err)
	}

	now := testNow
	p1.Exempted, p1.Resolution, p1.ResolvedAt = true, "Exempted: flashback", &now
	if err := s.UpdateConflict(ctx, p1); err != nil {
		t.Fatal(err)
	}

	// A recheck that only reports the exempted conflict again.
	if err := s.SaveConflicts(ctx, 2, []model.Conflict{{ID: "c-p1", Severity: model.SeverityP1, RuleID: "R1", Reason: "timeline"}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Conflicts(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(got))
	}
	if !got[0].Exempted || got[0].Resolution != "Exempted: flashback" || got[0].ResolvedAt == nil {
		t.Errorf("exemption lost: %+v", got[0])
	}

	// A resolved conflict that the recheck reports again is reopened.
	p0.Resolved, p0.Resolution, p0.ResolvedAt = true, "ignored", &now
	if err := s.SaveConflicts(ctx, 2, []model.Conflict{p0}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateConflict(ctx, p0); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveConflicts(ctx, 2, []model.Conflict{{ID: "c-p0", Severity: model.SeverityP0, RuleID: "R2", Reason: "dead"}}); err != nil {
		t.Fatal(err)
	}
	c, err := s.Conflict(ctx, "c-p0")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Open() || c.Resolution != "" || c.ResolvedAt != nil {
		t.Errorf("reproduced conflict stayed resolved: %+v", c)
	}

	if _, err := s.Conflict(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateConflict(ctx, model.Conflict{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := model.CharacterProfile{ID: "p1", Name: "Mara", Overview: "locksmith", OverrideSource: model.OverrideUser,
		Relationships: []model.Relationship{{Source: "Mara", Target: "Jon", Type: "friend", Chapter: 1}}}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.Profile(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Mara" || len(got.Relationships) != 1 || got.CreatedAt.IsZero() {
		t.Errorf("unexpected profile %+v", got)
	}
	if _, err := s.Profile(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(RenderProfile(got), "Mara friend Jon (ch1)") {
		t.Errorf("render missing relationship: %q", RenderProfile(got))
	}
}

func TestSearchTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", nil},
		{"bronze key", []string{"bronze", "key"}},
		{"key key a", []string{"key"}},
		{"玉佩,来历", []string{"玉佩", "来历"}},
		{"神秘玉佩的来历与古老石门", []string{"神秘玉佩", "来历", "古老石门"}},
		{"一二三四五六七八九十", []string{"一二三四五六", "七八九十"}},
	}
	for _, tt := range tests {
		got := SearchTerms(tt.query)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("SearchTerms(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}

	long := strings.Repeat("alpha ", 20) + strings.Join([]string{"a1", "b2", "c3", "d4", "e5", "f6", "g7", "h8", "i9", "j10", "k11", "l12", "m13"}, " ")
	if n := len(SearchTerms(long)); n != maxSearchTerms {
		t.Errorf("expected cap at %d terms, got %d", maxSearchTerms, n)
	}
}

func TestSearchLexical(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.SetIdentity("# Identity\n\nThe bronze key opens the vault beneath the bell tower.\n\n主角不能使用禁术复活死者。")
	s.AddEpisode(model.Episode{Chapter: 1, Summary: "market", Content: "Mara bargains for apples at the market."})
	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchLexical(ctx, "bronze vault", nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].SourcePath != IdentityPath {
		t.Fatalf("expected identity hit, got %+v", hits)
	}
	if hits[0].Score != 1 {
		t.Errorf("best hit should normalize to 1, got %f", hits[0].Score)
	}

	cjk, err := s.SearchLexical(ctx, "禁术", nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cjk) == 0 || cjk[0].SourcePath != IdentityPath {
		t.Fatalf("expected CJK term to match identity, got %+v", cjk)
	}
	for _, h := range cjk {
		if h.Score <= 0 || h.Score > 1 {
			t.Errorf("score out of range: %f", h.Score)
		}
	}

	filtered, _ := s.SearchLexical(ctx, "bronze vault", []model.Tier{model.TierEpisodic}, 10)
	if len(filtered) != 0 {
		t.Errorf("tier filter leaked: %+v", filtered)
	}

	none, _ := s.SearchLexical(ctx, "zzqx", nil, 10)
	if len(none) != 0 {
		t.Errorf("expected no hits, got %+v", none)
	}
}

func TestHighlight(t *testing.T) {
	got := highlight("the bronze key", "bronze")
	if got != "the [[H]]bronze[[/H]] key" {
		t.Errorf("highlight = %q", got)
	}
}

func TestSelfHealsMissingTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.db.Exec(`DROP TABLE chapters`); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChapter(ctx, &model.Chapter{Number: 1, Title: "x"}); err != nil {
		t.Fatalf("expected self-heal, got %v", err)
	}
	if _, err := s.Chapter(ctx, 1); err != nil {
		t.Errorf("chapter missing after heal: %v", err)
	}
}

// ftsCount counts index hits without going through the LIKE fallback.
func ftsCount(t *testing.T, s *SQLiteStore, term string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT count(*) FROM memory_fts WHERE memory_fts MATCH ?`, term).Scan(&n); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	return n
}

func TestSelfHealsDroppedFTS(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`DROP TABLE memory_fts`); err != nil {
		t.Fatal(err)
	}

	for i, word := range []string{"lighthouse", "quicksilver"} {
		if err := s.SetIdentity("# Identity\n\nThe " + word + " keeps the coast.\n"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Sync(ctx); err != nil {
			t.Fatalf("sync %d after dropping the index: %v", i+1, err)
		}
		if got := ftsCount(t, s, word); got != 1 {
			t.Errorf("sync %d: fts hits for %q = %d, want 1", i+1, word, got)
		}
	}
	if got := ftsCount(t, s, "lighthouse"); got != 0 {
		t.Errorf("stale identity still indexed: %d hits", got)
	}
}

func TestSelfHealsDesyncedFTS(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	// An empty index over a populated content table.
	if _, err := s.db.Exec(`DROP TABLE memory_fts`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`CREATE VIRTUAL TABLE memory_fts USING fts5(summary, content, content=memory_items, content_rowid=rowid)`); err != nil {
		t.Fatal(err)
	}

	if err := s.SetIdentity("# Identity\n\nThe lighthouse keeps the coast.\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sync(ctx); err != nil {
		t.Fatalf("sync over a desynced index: %v", err)
	}
	if _, err := s.Sync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if got := ftsCount(t, s, "lighthouse"); got != 1 {
		t.Errorf("fts hits = %d, want 1", got)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.SaveChapter(ctx, &model.Chapter{Number: 1, Title: "x"})
	s.AddEpisode(model.Episode{Chapter: 1, Content: "body"})
	s.Sync(ctx)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Chapters != 1 || st.Episodes != 1 || st.TotalItems == 0 || st.Tiers["L1"] != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}
