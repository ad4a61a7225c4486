// Package threads tracks foreshadowing planted in chapter plans and decides
// which of it later chapters have paid off.
package threads

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/textclean"
)

// Tunables for selection and rendering.
const (
	MinConfidence      = 0.15
	MaxResolvedKept    = 20
	RecencyWeight      = 0.5
	EvidenceWeight     = 0.3
	LengthWeight       = 0.2
	lengthNormRunes    = 200
	evidencelessFactor = 0.3

	// MinSharedKeywords resolves a thread by keyword overlap; threads with at
	// most SmallThreadKeywords keywords need only one match.
	MinSharedKeywords   = 2
	SmallThreadKeywords = 2
)

// Recompute derives every thread from the chapters' plans. A thread from
// chapter N is resolved by the first later chapter whose callback targets
// contain it (or share enough keywords), or failing that whose text shares
// enough keywords. The result depends only on chapters.
func Recompute(chapters []model.Chapter) []model.OpenThread {
	sorted := append([]model.Chapter(nil), chapters...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var out []model.OpenThread
	for _, ch := range sorted {
		if ch.Plan == nil {
			continue
		}
		for _, raw := range ch.Plan.Foreshadowing {
			text := strings.TrimSpace(textclean.CleanForeshadowing(raw, nil))
			if text == "" {
				continue
			}
			t := model.OpenThread{SourceChapter: ch.Number, Text: text, Status: model.ThreadOpen}
			resolve(&t, sorted)
			out = append(out, t)
		}
	}
	return out
}

// Evidence prefixes. Any match against a callback target, verbatim or by
// keywords, records the target itself; a match in chapter text records the
// shared keywords.
const (
	EvidenceCallback = "callback_target: "
	EvidenceKeywords = "keyword match: "
)

func resolve(t *model.OpenThread, chapters []model.Chapter) {
	kws := textclean.Keywords(t.Text)
	for _, later := range chapters {
		if later.Number <= t.SourceChapter {
			continue
		}
		if later.Plan != nil {
			for _, cb := range later.Plan.CallbackTargets {
				if cb == "" {
					continue
				}
				if strings.Contains(cb, t.Text) || strings.Contains(t.Text, cb) {
					markResolved(t, later.Number, EvidenceCallback+cb)
					return
				}
				if overlap := textclean.Overlap(kws, textclean.Keywords(cb)); enough(overlap, kws) {
					markResolved(t, later.Number, EvidenceCallback+cb)
					return
				}
			}
		}
		if body := later.Text(); body != "" && len(kws) > 0 {
			if matched := textclean.ContainedIn(kws, body); enough(matched, kws) {
				markResolved(t, later.Number, EvidenceKeywords+strings.Join(matched, ", "))
				return
			}
		}
	}
}

func enough(matched, all []string) bool {
	return len(matched) >= MinSharedKeywords || (len(matched) == 1 && len(all) <= SmallThreadKeywords)
}

func markResolved(t *model.OpenThread, chapter int, evidence string) {
	t.Status = model.ThreadResolved
	t.ResolvedByChapter = chapter
	t.Evidence = evidence
}

// Open filters to unresolved threads.
func Open(threads []model.OpenThread) []model.OpenThread {
	var out []model.OpenThread
	for _, t := range threads {
		if t.Status != model.ThreadResolved {
			out = append(out, t)
		}
	}
	return out
}

// Confidence scores an open thread's relevance to the current chapter.
func Confidence(t model.OpenThread, current int) float64 {
	recency := 1.0 / float64(max(1, current-t.SourceChapter))
	evidence := evidencelessFactor
	if t.Evidence != "" && t.Evidence != "pending" {
		evidence = 1
	}
	length := min(float64(len([]rune(t.Text)))/lengthNormRunes, 1)
	return RecencyWeight*recency + EvidenceWeight*evidence + LengthWeight*length
}

// Select returns at most k open threads scoring at least MinConfidence,
// highest first. Ties order by source chapter then text.
func Select(threads []model.OpenThread, current, k int) []model.OpenThread {
	if k <= 0 {
		return nil
	}
	type scored struct {
		t model.OpenThread
		s float64
	}
	var cands []scored
	for _, t := range Open(threads) {
		if s := Confidence(t, current); s >= MinConfidence {
			cands = append(cands, scored{t, s})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.s != b.s {
			return a.s > b.s
		}
		if a.t.SourceChapter != b.t.SourceChapter {
			return a.t.SourceChapter < b.t.SourceChapter
		}
		return a.t.Text < b.t.Text
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]model.OpenThread, len(cands))
	for i, c := range cands {
		out[i] = c.t
	}
	return out
}

const emptyMarker = "- (none)"

// Render writes the OPEN_THREADS.md document. Resolved threads keep the
// latest MaxResolvedKept by resolving chapter.
func Render(threads []model.OpenThread) string {
	open := Open(threads)
	var resolved []model.OpenThread
	for _, t := range threads {
		if t.Status == model.ThreadResolved {
			resolved = append(resolved, t)
		}
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].ResolvedByChapter > resolved[j].ResolvedByChapter
	})
	total := len(resolved)
	if len(resolved) > MaxResolvedKept {
		resolved = resolved[:MaxResolvedKept]
	}

	var b strings.Builder
	b.WriteString("# Open Threads\n\n## Open\n\n")
	if len(open) == 0 {
		b.WriteString(emptyMarker + "\n")
	}
	for _, t := range open {
		ev := t.Evidence
		if ev == "" {
			ev = "pending"
		}
		fmt.Fprintf(&b, "- [Ch.%d] %s | evidence: %s\n", t.SourceChapter, oneLine(t.Text), ev)
	}
	b.WriteString("\n## Resolved\n\n")
	if len(resolved) == 0 {
		b.WriteString(emptyMarker + "\n")
	}
	for _, t := range resolved {
		fmt.Fprintf(&b, "- [Ch.%d->Ch.%d] %s | evidence: %s\n", t.SourceChapter, t.ResolvedByChapter, oneLine(t.Text), t.Evidence)
	}
	fmt.Fprintf(&b, "\n---\n_Total: %d open, %d resolved_\n", len(open), total)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var lineRe = regexp.MustCompile(`^- \[Ch\.(\d+)(?:->Ch\.(\d+))?\] (.*?)(?: \| evidence: (.*))?$`)

// Parse reads threads back from a rendered document. Lines it cannot read are
// skipped.
func Parse(doc string) []model.OpenThread {
	var out []model.OpenThread
	status := model.ThreadOpen
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "## Open"):
			status = model.ThreadOpen
			continue
		case strings.HasPrefix(line, "## Resolved"):
			status = model.ThreadResolved
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		src, _ := strconv.Atoi(m[1])
		t := model.OpenThread{SourceChapter: src, Text: m[3], Status: status, Evidence: m[4]}
		if t.Evidence == "pending" {
			t.Evidence = ""
		}
		if m[2] != "" {
			t.ResolvedByChapter, _ = strconv.Atoi(m[2])
			t.Status = model.ThreadResolved
		}
		out = append(out, t)
	}
	return out
}

// Store is the persistence a Tracker needs.
type Store interface {
	Chapters(ctx context.Context) ([]model.Chapter, error)
	ThreadsDoc() (string, error)
	SetThreadsDoc(text string) error
}

// Tracker recomputes and persists OPEN_THREADS.md.
type Tracker struct {
	store Store
}

// NewTracker returns a tracker over s.
func NewTracker(s Store) *Tracker {
	return &Tracker{store: s}
}

// Refresh recomputes threads from the stored chapters and rewrites the document.
func (t *Tracker) Refresh(ctx context.Context) ([]model.OpenThread, error) {
	chapters, err := t.store.Chapters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	threads := Recompute(chapters)
	if err := t.store.SetThreadsDoc(Render(threads)); err != nil {
		return nil, fmt.Errorf("write threads: %w", err)
	}
	return threads, nil
}

// Stored reads threads from the persisted document without recomputing.
func (t *Tracker) Stored() ([]model.OpenThread, error) {
	doc, err := t.store.ThreadsDoc()
	if err != nil {
		return nil, fmt.Errorf("read threads: %w", err)
	}
	return Parse(doc), nil
}
