package studio

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/config"
	"github.com/rcliao/novel-memory/internal/consistency"
	"github.com/rcliao/novel-memory/internal/contextpack"
	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/store"
)

// Graph derivation limits.
const (
	MaxChapterNames  = 10
	MaxEventTargets  = 4
	EventConfidence  = 0.65
	eventDescRunes   = 140
	graphTextRunes   = 3600
	runtimeLineRunes = 80
	runtimeMaxLines  = 10
)

var eventNS = uuid.NewSHA1(uuid.NameSpaceURL, []byte("novel-memory/event"))

// relationMarkers map narrative cues to relations, strongest first.
var relationMarkers = []struct {
	relation string
	markers  []string
}{
	{model.RelationEnemy, []string{"背叛", "出卖", "反叛", "冲突", "对抗", "追击", "威胁", "围攻", "交锋",
		"betray", "turned on", "fought", "attacked", "threatened", "hunted", "ambushed"}},
	{model.RelationAlly, []string{"合作", "联手", "同盟", "并肩", "协作", "结盟",
		"allied", "teamed up", "joined forces", "side by side", "worked with"}},
	{model.RelationFriend, []string{"保护", "营救", "救下", "掩护", "守住",
		"protected", "rescued", "saved", "shielded", "covered for"}},
	{model.RelationLove, []string{"相爱", "爱上", "亲吻", "loved", "kissed", "fell for"}},
}

// InferRelation returns the first relation whose cue appears in text, or
// RelationRelated.
func InferRelation(text string) string {
	lower := strings.ToLower(text)
	for _, rm := range relationMarkers {
		for _, m := range rm.markers {
			if strings.Contains(lower, m) {
				return rm.relation
			}
		}
	}
	return model.RelationRelated
}

var sentenceSplitRe = regexp.MustCompile(`[。！？!?\n]|\.\s`)

// relationContext picks the first sentence naming both subject and target,
// then the first naming target, then the whole text.
func relationContext(text, subject, target string) string {
	var segs []string
	for _, seg := range sentenceSplitRe.Split(text, -1) {
		if seg = strings.TrimSpace(seg); seg != "" {
			segs = append(segs, seg)
		}
	}
	for _, seg := range segs {
		if strings.Contains(seg, subject) && strings.Contains(seg, target) {
			return seg
		}
	}
	for _, seg := range segs {
		if strings.Contains(seg, target) {
			return seg
		}
	}
	return text
}

// WritebackReport summarizes one chapter writeback.
type WritebackReport struct {
	Chapter         int               `json:"chapter"`
	Mode            string            `json:"mode"`
	Synopsis        string            `json:"synopsis"`
	Characters      []string          `json:"characters"`
	Deceased        []string          `json:"deceased,omitempty"`
	Events          int               `json:"events"`
	OpenThreads     int               `json:"open_threads"`
	ResolvedThreads int               `json:"resolved_threads"`
	MemoryEntry     bool              `json:"memory_entry"`
	RuntimeState    bool              `json:"runtime_state"`
	Compacted       bool              `json:"compacted"`
	Sync            *store.SyncReport `json:"sync,omitempty"`
}

// Writeback folds chapter n into the memory layers: the L3 synopsis, the
// character graph, open threads, the rolling memory entry and, in
// consolidated mode, the runtime state and threshold compaction. It ends
// with a sync of the indexed mirror.
func (s *Studio) Writeback(ctx context.Context, n int) (*WritebackReport, error) {
	defer s.lock(n)()
	ch, err := s.store.Chapter(ctx, n)
	if err != nil {
		return nil, err
	}
	return s.writeback(ctx, ch)
}

func (s *Studio) writeback(ctx context.Context, ch model.Chapter) (*WritebackReport, error) {
	start := time.Now()
	n := ch.Number
	text := ch.Text()
	rep := &WritebackReport{Chapter: n, Mode: s.opts.Mode}

	// AddEpisode replaces only this chapter's synopsis; other episode types stay.
	rep.Synopsis = contextpack.Synopsis(n, text, ch.Plan)
	if _, err := s.store.AddEpisode(model.Episode{
		Type:    model.EpisodeSynopsis,
		Chapter: n,
		Summary: fmt.Sprintf("Chapter %d synopsis", n),
		Content: rep.Synopsis,
	}); err != nil {
		return nil, fmt.Errorf("write synopsis: %w", err)
	}

	names, deceased, events, err := s.deriveGraph(ctx, ch)
	if err != nil {
		return nil, err
	}
	rep.Characters, rep.Deceased, rep.Events = names, deceased, events

	all, err := s.tracker.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range all {
		if t.Status == model.ThreadResolved {
			rep.ResolvedThreads++
		} else {
			rep.OpenThreads++
		}
	}

	status := "draft complete"
	if ch.Status == model.StatusApproved {
		status = "approved"
	}
	entry := fmt.Sprintf("- status: %s\n- summary: %s\n- words: %d", status, chunker.Runes(rep.Synopsis, 100), ch.WordCount)
	if err := s.store.UpsertChapterEntry(n, entry); err != nil {
		return nil, fmt.Errorf("write memory entry: %w", err)
	}
	rep.MemoryEntry = true

	if s.opts.Mode == config.ModeConsolidated {
		if err := s.store.SetRuntimeState(s.runtimeState(n, text)); err != nil {
			return nil, fmt.Errorf("write runtime state: %w", err)
		}
		rep.RuntimeState = true
		if rep.Compacted, err = s.store.Compact(n, all); err != nil {
			return nil, fmt.Errorf("compact memory: %w", err)
		}
	}

	if err := s.store.AppendLog(fmt.Sprintf("Chapter %d writeback (%s): %s", n, s.opts.Mode, rep.Synopsis)); err != nil {
		return nil, err
	}
	if rep.Sync, err = s.store.Sync(ctx); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	s.logger.Info("memory_refresh_done",
		"chapter", n,
		"mode", s.opts.Mode,
		"characters", len(rep.Characters),
		"events", rep.Events,
		"open_threads", rep.OpenThreads,
		"resolved_threads", rep.ResolvedThreads,
		"compacted", rep.Compacted,
		"synced", rep.Sync.Synced,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}

// chapterNames collects role-goal names then names found in the title, goal
// and text, up to MaxChapterNames.
func (s *Studio) chapterNames(ch model.Chapter) []string {
	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		n = strings.TrimSpace(n)
		key := store.NormalizeName(n)
		if n == "" || seen[key] || len(names) >= MaxChapterNames {
			return
		}
		seen[key] = true
		names = append(names, n)
	}
	if ch.Plan != nil {
		roles := make([]string, 0, len(ch.Plan.RoleGoals))
		for r := range ch.Plan.RoleGoals {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		for _, r := range roles {
			add(r)
		}
	}
	for _, src := range []string{ch.Title, ch.Goal, ch.Text()} {
		for _, n := range s.opts.Names.ExtractCandidateNames(src) {
			add(n)
		}
	}
	return names
}

// deriveGraph upserts the chapter's characters, marks those mentioned next to
// death vocabulary as dead, and replaces the chapter's events with one edge
// from the first character to each of the next few.
func (s *Studio) deriveGraph(ctx context.Context, ch model.Chapter) (names, deceased []string, events int, err error) {
	names = s.chapterNames(ch)
	text := ch.Text()
	deceased = consistency.Deceased(text, names)
	dead := map[string]bool{}
	for _, d := range deceased {
		dead[d] = true
	}

	for _, name := range names {
		e := model.EntityState{
			Type:             model.EntityCharacter,
			Name:             name,
			FirstSeenChapter: ch.Number,
			LastSeenChapter:  ch.Number,
		}
		if dead[name] {
			e.Attrs = map[string]any{model.AttrIsDead: true}
		}
		if _, err := s.store.UpsertEntity(ctx, e); err != nil {
			return nil, nil, 0, err
		}
	}

	var edges []model.EventEdge
	if len(names) > 1 {
		var hint string
		if ch.Plan != nil {
			hint = strings.Join(ch.Plan.Conflicts, " ")
		}
		var parts []string
		for _, p := range []string{ch.Title, ch.Goal, hint, chunker.Runes(text, graphTextRunes)} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		combined := strings.Join(parts, "\n")

		subject := names[0]
		targets := names[1:min(len(names), MaxEventTargets+1)]
		for i, target := range targets {
			rc := relationContext(combined, subject, target)
			if i == 0 && hint != "" {
				rc = hint + "\n" + rc
			}
			relation := InferRelation(rc)
			edges = append(edges, model.EventEdge{
				ID:          uuid.NewSHA1(eventNS, []byte(fmt.Sprintf("%d:%d:%s:%s:%s", ch.Number, i, subject, target, relation))).String(),
				Subject:     subject,
				Relation:    relation,
				Object:      target,
				Chapter:     ch.Number,
				Confidence:  EventConfidence,
				Description: chunker.Runes(strings.Join(strings.Fields(rc), " "), eventDescRunes),
			})
		}
	}
	if err := s.store.ReplaceChapterEvents(ctx, ch.Number, edges); err != nil {
		return nil, nil, 0, err
	}
	return names, deceased, len(edges), nil
}

var (
	appearanceCues  = []string{"登场", "出现", "来到", "走进", "第一次", "appeared", "arrived", "walked in", "for the first time"}
	stateChangeCues = []string{"变成", "转变", "觉醒", "死亡", "离开", "背叛", "受伤", "恢复", "获得", "失去", "决定",
		"发现了", "揭露", "暴露", "改变了", "不再是", "became", "awakened", "died", "left", "betrayed", "wounded",
		"recovered", "gained", "lost", "decided", "discovered", "revealed", "exposed", "no longer"}
)

// runtimeState rebuilds RUNTIME_STATE.md from the lines of the latest chapter
// that mention arrivals and state changes.
func (s *Studio) runtimeState(chapter int, text string) string {
	var arrivals, changes []string
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if i < 20 && len(arrivals) < runtimeMaxLines && containsAny(lower, appearanceCues) {
			arrivals = append(arrivals, chunker.Runes(line, 50))
		}
		if len([]rune(line)) >= 5 && len(changes) < runtimeMaxLines && containsAny(lower, stateChangeCues) {
			changes = append(changes, chunker.Runes(line, runtimeLineRunes))
		}
	}

	var b strings.Builder
	b.WriteString("# Runtime State\n")
	list := func(heading string, items []string) {
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		if len(items) == 0 {
			b.WriteString("- (none)\n")
		}
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	list("New Characters", arrivals)
	list("State Changes", changes)
	list("Mainline Progress", []string{fmt.Sprintf("Chapter %d complete", chapter)})
	fmt.Fprintf(&b, "\n---\n_Last updated: %s_\n_Source chapters: 1-%d_\n", s.opts.Now().UTC().Format(time.RFC3339), chapter)
	return b.String()
}

func containsAny(text string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(text, sub) {
			return true
		}
	}
	return false
}

// DeleteChapter removes chapter n with its conflicts, events, episodes and
// rolling memory entry, then recomputes threads and syncs.
func (s *Studio) DeleteChapter(ctx context.Context, n int) error {
	defer s.lock(n)()
	if err := s.store.DeleteChapter(ctx, n); err != nil {
		return err
	}
	if err := s.store.DeleteChapterEvents(ctx, n); err != nil {
		return err
	}
	removed, err := s.store.DeleteEpisodes(n)
	if err != nil {
		return err
	}
	if _, err := s.store.RemoveChapterEntry(n); err != nil {
		return err
	}
	if _, err := s.tracker.Refresh(ctx); err != nil {
		return err
	}
	if _, err := s.store.Sync(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	s.logger.Info("chapter deleted", "chapter", n, "episodes_deleted", removed)
	return nil
}
