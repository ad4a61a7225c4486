package store

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
)

// UnresolvedHeading is the MEMORY.md section listing open threads after compaction.
const UnresolvedHeading = "Unresolved Threads"

// CompactionDue reports whether chapter triggers threshold compaction.
func (s *SQLiteStore) CompactionDue(chapter int) bool {
	return chapter > 0 && chapter%s.opts.CompactionInterval == 0
}

// Compact rewrites MEMORY.md down to the last RollingWindow chapter entries
// plus the first unresolved threads when chapter hits the compaction interval.
// The full previous document is copied to MEMORY.legacy.md every time.
func (s *SQLiteStore) Compact(chapter int, unresolved []model.OpenThread) (bool, error) {
	if !s.CompactionDue(chapter) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(MemoryPath))
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read memory: %w", err)
	}
	if err := writeFileAtomic(s.path(LegacyPath), raw); err != nil {
		return false, fmt.Errorf("backup memory: %w", err)
	}

	compacted := compactMemory(string(raw), s.opts.RollingWindow, unresolved)
	if err := writeFileAtomic(s.path(MemoryPath), []byte(compacted)); err != nil {
		return false, fmt.Errorf("write memory: %w", err)
	}
	s.opts.Logger.Info("memory compacted", "chapter", chapter, "window", s.opts.RollingWindow,
		"before_bytes", len(raw), "after_bytes", len(compacted))
	return true, nil
}

func compactMemory(text string, window int, unresolved []model.OpenThread) string {
	type entry struct {
		chapter int
		text    string
	}
	var entries []entry
	sections := chunker.Sections(text)
	for i := 0; i < len(sections); i++ {
		sec := sections[i]
		n := ChapterOfHeading(sec.Heading)
		if n == 0 || sec.Level == 0 {
			continue
		}
		parts := []string{sec.Text()}
		for i+1 < len(sections) && sections[i+1].Level > sec.Level {
			i++
			parts = append(parts, sections[i].Text())
		}
		entries = append(entries, entry{chapter: n, text: strings.Join(parts, "\n\n")})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].chapter < entries[j].chapter })
	if len(entries) > window {
		entries = entries[len(entries)-window:]
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(defaultMemory, "\n"))
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(e.text))
		b.WriteString("\n")
	}
	b.WriteString("\n## " + UnresolvedHeading + "\n\n")
	n := 0
	for _, t := range unresolved {
		if t.Status == model.ThreadResolved {
			continue
		}
		if n == DefaultUnresolvedInMemory {
			break
		}
		fmt.Fprintf(&b, "- [ch%d] %s\n", t.SourceChapter, strings.TrimSpace(t.Text))
		n++
	}
	return b.String()
}
