package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
)

// Relative document paths inside a project directory.
const (
	IdentityPath = "memory/L1/IDENTITY.md"
	RuntimePath  = "memory/L1/RUNTIME_STATE.md"
	MemoryPath   = "memory/L2/MEMORY.md"
	LegacyPath   = "memory/L2/MEMORY.legacy.md"
	EpisodeDir   = "memory/L3"
	ThreadsPath  = "memory/OPEN_THREADS.md"
	LogDir       = "logs/daily"
)

// ChapterDecisions is the MEMORY.md heading that holds per-chapter entries.
const ChapterDecisions = "Chapter Decisions"

const defaultIdentity = `# Identity

## Premise

## World Rules

## Taboos
`

const defaultRuntime = `# Runtime State

## New Characters

## State Changes

## Mainline Progress
`

const defaultMemory = `# Rolling Memory

## ` + ChapterDecisions + `
`

const defaultThreads = `# Open Threads

## Open

## Resolved
`

func (s *SQLiteStore) path(rel string) string {
	return filepath.Join(s.dir, filepath.FromSlash(rel))
}

func (s *SQLiteStore) ensureLayout() error {
	for _, d := range []string{"memory/L1", "memory/L2", EpisodeDir, LogDir} {
		if err := os.MkdirAll(s.path(d), 0o755); err != nil {
			return err
		}
	}
	templates := map[string]string{
		IdentityPath: defaultIdentity,
		RuntimePath:  defaultRuntime,
		MemoryPath:   defaultMemory,
		ThreadsPath:  defaultThreads,
	}
	for rel, body := range templates {
		p := s.path(rel)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := writeFileAtomic(p, []byte(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) readDoc(rel string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(s.path(rel))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(b), nil
}

func (s *SQLiteStore) writeDoc(rel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path(rel), []byte(text)); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// Identity returns the L1 identity document.
func (s *SQLiteStore) Identity() (string, error) { return s.readDoc(IdentityPath) }

// SetIdentity replaces the L1 identity document.
func (s *SQLiteStore) SetIdentity(text string) error { return s.writeDoc(IdentityPath, text) }

// RuntimeState returns the L1 runtime state document.
func (s *SQLiteStore) RuntimeState() (string, error) { return s.readDoc(RuntimePath) }

// SetRuntimeState replaces the L1 runtime state document.
func (s *SQLiteStore) SetRuntimeState(text string) error { return s.writeDoc(RuntimePath, text) }

// RollingMemory returns MEMORY.md.
func (s *SQLiteStore) RollingMemory() (string, error) { return s.readDoc(MemoryPath) }

// SetRollingMemory replaces MEMORY.md.
func (s *SQLiteStore) SetRollingMemory(text string) error { return s.writeDoc(MemoryPath, text) }

// ThreadsDoc returns the generated OPEN_THREADS.md.
func (s *SQLiteStore) ThreadsDoc() (string, error) { return s.readDoc(ThreadsPath) }

// SetThreadsDoc replaces OPEN_THREADS.md.
func (s *SQLiteStore) SetThreadsDoc(text string) error { return s.writeDoc(ThreadsPath, text) }

// ChapterHeading is the MEMORY.md heading of one chapter entry.
func ChapterHeading(chapter int) string {
	return "Chapter " + strconv.Itoa(chapter)
}

// ChapterOfHeading parses "Chapter N" (optionally followed by a title) and
// returns N, or 0.
func ChapterOfHeading(heading string) int {
	rest, ok := strings.CutPrefix(heading, "Chapter ")
	if !ok {
		return 0
	}
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return n
}

// UpsertChapterEntry replaces the "### Chapter N" section of MEMORY.md, or
// appends it under Chapter Decisions. Writing the same entry twice leaves a
// single section.
func (s *SQLiteStore) UpsertChapterEntry(chapter int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(MemoryPath)
	raw, err := os.ReadFile(p)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read memory: %w", err)
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		text = defaultMemory
	}
	section := "### " + ChapterHeading(chapter) + "\n\n" + strings.TrimSpace(body)
	updated, _ := chunker.ReplaceSection(text, func(h string) bool {
		return ChapterOfHeading(h) == chapter
	}, ChapterDecisions, section)
	return writeFileAtomic(p, []byte(updated))
}

// RemoveChapterEntry deletes the "### Chapter N" section of MEMORY.md. It
// reports whether a section was removed.
func (s *SQLiteStore) RemoveChapterEntry(chapter int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(MemoryPath)
	raw, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read memory: %w", err)
	}
	found := false
	for _, sec := range chunker.Sections(string(raw)) {
		if sec.Level > 0 && ChapterOfHeading(sec.Heading) == chapter {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	updated, _ := chunker.ReplaceSection(string(raw), func(h string) bool {
		return ChapterOfHeading(h) == chapter
	}, "", "")
	updated = blankRunRe.ReplaceAllString(updated, "\n\n")
	return true, writeFileAtomic(p, []byte(updated))
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// AppendLog appends a timestamped entry to today's daily log.
func (s *SQLiteStore) AppendLog(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := s.path(filepath.Join(LogDir, now.Format("2006-01-02")+".md"))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "## %s\n\n%s\n\n", now.Format(time.RFC3339), strings.TrimSpace(text)); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// AddEpisode writes an L3 episode, removing any earlier episode with the same
// chapter and type first.
func (s *SQLiteStore) AddEpisode(ep model.Episode) (model.Episode, error) {
	if ep.Type == "" {
		ep.Type = model.EpisodeSummary
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.scanEpisodes()
	if err != nil {
		return ep, err
	}
	for _, e := range existing {
		if e.ep.Chapter == ep.Chapter && e.ep.Type == ep.Type {
			if err := removeIfExists(e.path); err != nil {
				return ep, fmt.Errorf("remove episode: %w", err)
			}
		}
	}

	ep.ID = s.newID()
	ep.CreatedAt = s.now()
	data, err := encodeEpisode(ep)
	if err != nil {
		return ep, err
	}
	if err := writeFileAtomic(s.path(filepath.Join(EpisodeDir, ep.ID+".md")), data); err != nil {
		return ep, fmt.Errorf("write episode: %w", err)
	}
	return ep, nil
}

// Episodes lists L3 episodes of the given type ("" for all), ordered by chapter
// then creation time. Unreadable documents are skipped.
func (s *SQLiteStore) Episodes(typ string) ([]model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := s.scanEpisodes()
	if err != nil {
		return nil, err
	}
	var out []model.Episode
	for _, e := range all {
		if typ == "" || e.ep.Type == typ {
			out = append(out, e.ep)
		}
	}
	return out, nil
}

// DeleteEpisodes removes every L3 episode of a chapter.
func (s *SQLiteStore) DeleteEpisodes(chapter int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.scanEpisodes()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range all {
		if e.ep.Chapter != chapter {
			continue
		}
		if err := removeIfExists(e.path); err != nil {
			return n, fmt.Errorf("remove episode: %w", err)
		}
		n++
	}
	return n, nil
}

type episodeFile struct {
	path string
	rel  string
	ep   model.Episode
}

// scanEpisodes reads every L3 document. Caller holds the lock.
func (s *SQLiteStore) scanEpisodes() ([]episodeFile, error) {
	dir := s.path(EpisodeDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	var out []episodeFile
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".md") {
			continue
		}
		p := filepath.Join(dir, de.Name())
		raw, err := os.ReadFile(p)
		if err != nil {
			s.opts.Logger.Warn("skip unreadable episode", "path", p, "error", err)
			continue
		}
		ep, err := decodeEpisode(raw)
		if err != nil {
			s.opts.Logger.Warn("skip malformed episode", "path", p, "error", err)
			continue
		}
		out = append(out, episodeFile{path: p, rel: EpisodeDir + "/" + de.Name(), ep: ep})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ep, out[j].ep
		if a.Chapter != b.Chapter {
			return a.Chapter < b.Chapter
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

var frontmatterDelim = []byte("---")

func encodeEpisode(ep model.Episode) ([]byte, error) {
	meta, err := yaml.Marshal(ep)
	if err != nil {
		return nil, fmt.Errorf("encode episode: %w", err)
	}
	var b bytes.Buffer
	b.Write(frontmatterDelim)
	b.WriteByte('\n')
	b.Write(meta)
	b.Write(frontmatterDelim)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(ep.Content))
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func decodeEpisode(raw []byte) (model.Episode, error) {
	var ep model.Episode
	raw = bytes.TrimLeft(raw, "\ufeff \n")
	if !bytes.HasPrefix(raw, frontmatterDelim) {
		return ep, fmt.Errorf("missing frontmatter")
	}
	rest := raw[len(frontmatterDelim):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return ep, fmt.Errorf("unterminated frontmatter")
	}
	if err := yaml.Unmarshal(rest[:end], &ep); err != nil {
		return ep, fmt.Errorf("parse frontmatter: %w", err)
	}
	body := rest[end+len("\n---"):]
	ep.Content = strings.TrimSpace(string(body))
	return ep, nil
}
