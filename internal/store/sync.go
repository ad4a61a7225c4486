package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/novel-memory/internal/model"
)

// docWeight is the importance and recency assigned to a document class.
type docWeight struct {
	tier       model.Tier
	importance int
	recency    int
}

var (
	weightIdentity = docWeight{model.TierIdentity, 9, 2}
	weightRuntime  = docWeight{model.TierIdentity, 7, 7}
	weightMemory   = docWeight{model.TierRolling, 5, 8}
	weightThreads  = docWeight{model.TierRolling, 6, 8}
	weightLog      = docWeight{model.TierRolling, 3, 6}
	weightEpisode  = docWeight{model.TierEpisodic, 4, 5}
	weightProfile  = docWeight{model.TierProfile, 6, 4}
)

type syncDoc struct {
	source   string
	weight   docWeight
	hint     string
	content  string
	entities []string
	timeSpan string
	meta     map[string]any
}

// Sync mirrors every on-disk document and stored profile into memory_items in
// one transaction, deleting rows whose source no longer exists. Daily logs
// past the retention window are purged from disk first.
func (s *SQLiteStore) Sync(ctx context.Context) (*SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &SyncReport{}
	purged, err := s.purgeLogs()
	if err != nil {
		return nil, fmt.Errorf("purge logs: %w", err)
	}
	report.PurgedLogs = purged

	docs := s.collectDocs(report)
	profiles, err := s.listProfiles(ctx)
	if err != nil {
		s.opts.Logger.Warn("skip profiles during sync", "error", err)
		report.Skipped = append(report.Skipped, "profiles")
	}
	for _, p := range profiles {
		docs = append(docs, syncDoc{
			source:   "profiles/" + p.ID,
			weight:   weightProfile,
			hint:     p.Name,
			content:  RenderProfile(p),
			entities: []string{p.Name},
			timeSpan: chapterSpan(p.LastUpdatedChapter),
			meta:     map[string]any{"profile_id": p.ID, "override_source": p.OverrideSource},
		})
	}

	err = s.heal("sync", func() error {
		n, removed, err := s.writeItems(ctx, docs)
		report.Synced, report.Removed = n, removed
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sync items: %w", err)
	}
	return report, nil
}

func (s *SQLiteStore) writeItems(ctx context.Context, docs []syncDoc) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	keep := make(map[string]bool, len(docs))
	for _, d := range docs {
		id := ItemID(d.source)
		keep[id] = true
		entities, err := marshalJSON(d.entities)
		if err != nil {
			return 0, 0, err
		}
		meta, err := marshalJSON(d.meta)
		if err != nil {
			return 0, 0, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memory_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tier = excluded.tier, source_path = excluded.source_path,
				summary = excluded.summary, content = excluded.content,
				entities = excluded.entities, time_span = excluded.time_span,
				importance = excluded.importance, recency = excluded.recency,
				updated_at = excluded.updated_at, metadata = excluded.metadata`,
			id, string(d.weight.tier), d.source, Summarize(d.hint, d.content), d.content,
			entities, d.timeSpan, d.weight.importance, d.weight.recency, now, now, meta)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert %s: %w", d.source, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM memory_items`)
	if err != nil {
		return 0, 0, err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, 0, err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id); err != nil {
			return 0, 0, err
		}
	}
	return len(docs), len(stale), tx.Commit()
}

// collectDocs reads the markdown layers. Unreadable or empty documents are
// skipped with a warning. Caller holds the lock.
func (s *SQLiteStore) collectDocs(report *SyncReport) []syncDoc {
	var docs []syncDoc
	add := func(rel string, w docWeight, d syncDoc) {
		raw, err := os.ReadFile(s.path(rel))
		if os.IsNotExist(err) {
			return
		}
		if err != nil {
			s.opts.Logger.Warn("skip unreadable document", "path", rel, "error", err)
			report.Skipped = append(report.Skipped, rel)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			return
		}
		d.source, d.weight, d.content = rel, w, string(raw)
		docs = append(docs, d)
	}

	add(IdentityPath, weightIdentity, syncDoc{})
	add(RuntimePath, weightRuntime, syncDoc{})
	add(MemoryPath, weightMemory, syncDoc{})
	add(ThreadsPath, weightThreads, syncDoc{})

	for _, name := range s.logFiles() {
		date := strings.TrimSuffix(name, ".md")
		add(LogDir+"/"+name, weightLog, syncDoc{timeSpan: date})
	}

	episodes, err := s.scanEpisodes()
	if err != nil {
		s.opts.Logger.Warn("skip episodes during sync", "error", err)
		report.Skipped = append(report.Skipped, EpisodeDir)
	}
	for _, e := range episodes {
		if strings.TrimSpace(e.ep.Content) == "" && strings.TrimSpace(e.ep.Summary) == "" {
			continue
		}
		content := e.ep.Content
		if content == "" {
			content = e.ep.Summary
		}
		docs = append(docs, syncDoc{
			source:   e.rel,
			weight:   weightEpisode,
			hint:     e.ep.Summary,
			content:  content,
			timeSpan: chapterSpan(e.ep.Chapter),
			meta:     map[string]any{"chapter": e.ep.Chapter, "type": e.ep.Type},
		})
	}
	return docs
}

// logFiles returns daily log file names in date order.
func (s *SQLiteStore) logFiles() []string {
	entries, err := os.ReadDir(s.path(LogDir))
	if err != nil {
		return nil
	}
	var names []string
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".md") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names
}

// purgeLogs deletes daily logs dated before the retention window. Caller holds the lock.
func (s *SQLiteStore) purgeLogs() ([]string, error) {
	cutoff := s.now().AddDate(0, 0, -s.opts.LogRetentionDays)
	var purged []string
	for _, name := range s.logFiles() {
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".md"))
		if err != nil {
			continue
		}
		if !day.Before(cutoff.Truncate(24 * time.Hour)) {
			continue
		}
		if err := removeIfExists(filepath.Join(s.path(LogDir), name)); err != nil {
			return purged, err
		}
		purged = append(purged, name)
	}
	return purged, nil
}

func chapterSpan(chapter int) string {
	if chapter <= 0 {
		return ""
	}
	return "chapter " + strconv.Itoa(chapter)
}
