// Package contextpack assembles the bounded context handed to a chapter
// generation call.
package contextpack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/threads"
)

// PreviousChapters is how many earlier chapters the pack lists.
const PreviousChapters = 5

// DefaultTopKThreads caps the open threads in a pack.
const DefaultTopKThreads = 10

// Store reads the layered memory documents.
type Store interface {
	Identity() (string, error)
	RuntimeState() (string, error)
	RollingMemory() (string, error)
	Episodes(typ string) ([]model.Episode, error)
	ThreadsDoc() (string, error)
	SetThreadsDoc(text string) error
}

// Options configures a Builder.
type Options struct {
	TotalBudget int // input tokens available to the pack
	TopKThreads int
	ReadOnly    bool // read threads from the stored document instead of recomputing
	Logger      *slog.Logger
}

// Builder builds context packs from one project's store.
type Builder struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// NewBuilder returns a builder over s.
func NewBuilder(s Store, opts Options) *Builder {
	if opts.TopKThreads <= 0 {
		opts.TopKThreads = DefaultTopKThreads
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: s, opts: opts, logger: logger}
}

// Build assembles the pack for chapter from the stored documents and the
// project's chapters. Every field is cut to its budget, so the total used
// never exceeds the total budget.
func (b *Builder) Build(ctx context.Context, chapter int, chapters []model.Chapter) (*model.ContextPack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	budgets := FieldBudgets(b.opts.TotalBudget)
	stats := model.BudgetStats{Fields: make(map[string]model.FieldBudget, len(Fields))}
	for _, f := range Fields {
		stats.TotalBudget += budgets[f]
	}
	sources := map[string]int{}
	record := func(field, raw string, used int) {
		sources[field] = len([]rune(raw))
		stats.Fields[field] = model.FieldBudget{Budget: budgets[field], Used: used}
		stats.TotalUsed += used
	}

	pack := &model.ContextPack{Chapter: chapter}

	identity, err := b.store.Identity()
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	pack.IdentityCore = fit(identity, budgets[model.FieldIdentity], false)
	record(model.FieldIdentity, identity, Tokens(pack.IdentityCore))

	runtime, err := b.store.RuntimeState()
	if err != nil {
		return nil, fmt.Errorf("read runtime state: %w", err)
	}
	pack.RuntimeState = fit(runtime, budgets[model.FieldRuntimeState], true)
	record(model.FieldRuntimeState, runtime, Tokens(pack.RuntimeState))

	memory, err := b.store.RollingMemory()
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	pack.MemoryCompact = fit(memory, budgets[model.FieldMemory], true)
	record(model.FieldMemory, memory, Tokens(pack.MemoryCompact))

	synopsis, err := b.previousSynopsis(chapter)
	if err != nil {
		return nil, err
	}
	pack.PreviousSynopsis = fit(synopsis, budgets[model.FieldSynopsis], true)
	record(model.FieldSynopsis, synopsis, Tokens(pack.PreviousSynopsis))

	all, err := b.threads(chapters)
	if err != nil {
		return nil, err
	}
	selected := threads.Select(all, chapter, b.opts.TopKThreads)
	full := renderThreads(selected)
	selected, rendered := fitThreads(selected, budgets[model.FieldThreads])
	pack.OpenThreads = selected
	record(model.FieldThreads, full, Tokens(rendered))

	prev := previousChapters(chapters, chapter)
	fullPrev := renderChapters(prev)
	prev, renderedPrev := fitChapters(prev, budgets[model.FieldPreviousChapters])
	pack.PreviousChapters = prev
	record(model.FieldPreviousChapters, fullPrev, Tokens(renderedPrev))

	stats.Fields[model.FieldStats] = model.FieldBudget{Budget: budgets[model.FieldStats]}
	pack.BudgetStats = stats

	b.logger.Info("context_pack_built",
		"chapter", chapter,
		"budget_total", stats.TotalBudget,
		"total_used", stats.TotalUsed,
		"identity_runes", sources[model.FieldIdentity],
		"runtime_runes", sources[model.FieldRuntimeState],
		"memory_runes", sources[model.FieldMemory],
		"synopsis_runes", sources[model.FieldSynopsis],
		"threads_runes", sources[model.FieldThreads],
		"previous_chapters_runes", sources[model.FieldPreviousChapters],
		"threads_selected", len(pack.OpenThreads),
	)
	return pack, nil
}

func (b *Builder) threads(chapters []model.Chapter) ([]model.OpenThread, error) {
	if b.opts.ReadOnly {
		doc, err := b.store.ThreadsDoc()
		if err != nil {
			return nil, fmt.Errorf("read threads: %w", err)
		}
		return threads.Parse(doc), nil
	}
	all := threads.Recompute(chapters)
	if err := b.store.SetThreadsDoc(threads.Render(all)); err != nil {
		return nil, fmt.Errorf("write threads: %w", err)
	}
	return all, nil
}

// previousSynopsis picks the synopsis of chapter-1, else the latest one.
// Chapter 1 has none.
func (b *Builder) previousSynopsis(chapter int) (string, error) {
	if chapter <= 1 {
		return "", nil
	}
	eps, err := b.store.Episodes(model.EpisodeSynopsis)
	if err != nil {
		return "", fmt.Errorf("read synopses: %w", err)
	}
	if len(eps) == 0 {
		return "", nil
	}
	for i := len(eps) - 1; i >= 0; i-- {
		if eps[i].Chapter == chapter-1 {
			return eps[i].Content, nil
		}
	}
	return eps[len(eps)-1].Content, nil
}

// fit cuts text to budget tokens. Narrative text backs off to a sentence end.
func fit(text string, budget int, narrative bool) string {
	limit := budget * RunesPerToken
	if narrative {
		return chunker.Clip(text, limit, chunker.DefaultBackoff)
	}
	return chunker.Runes(text, limit)
}

func renderThreads(ts []model.OpenThread) string {
	var b strings.Builder
	for _, t := range ts {
		fmt.Fprintf(&b, "- [Ch.%d] %s\n", t.SourceChapter, t.Text)
	}
	return b.String()
}

// fitThreads drops the lowest-ranked threads until the rendering fits.
func fitThreads(ts []model.OpenThread, budget int) ([]model.OpenThread, string) {
	for {
		text := renderThreads(ts)
		if Tokens(text) <= budget || len(ts) == 0 {
			return ts, text
		}
		ts = ts[:len(ts)-1]
	}
}

func previousChapters(chapters []model.Chapter, current int) []model.ChapterCompact {
	var out []model.ChapterCompact
	for _, c := range chapters {
		if c.Number >= current {
			continue
		}
		out = append(out, model.ChapterCompact{Number: c.Number, Title: c.Title, Status: c.Status, WordCount: c.WordCount})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if len(out) > PreviousChapters {
		out = out[len(out)-PreviousChapters:]
	}
	return out
}

func renderChapters(cs []model.ChapterCompact) string {
	if len(cs) == 0 {
		return ""
	}
	raw, _ := json.Marshal(cs)
	return string(raw)
}

// fitChapters drops the oldest chapters until the rendering fits.
func fitChapters(cs []model.ChapterCompact, budget int) ([]model.ChapterCompact, string) {
	for {
		text := renderChapters(cs)
		if Tokens(text) <= budget || len(cs) == 0 {
			return cs, text
		}
		cs = cs[1:]
	}
}
