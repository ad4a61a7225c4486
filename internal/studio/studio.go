// Package studio runs the per-chapter pipeline of one project: plan, draft,
// check, approve and the memory writeback that follows approval.
package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/config"
	"github.com/rcliao/novel-memory/internal/consistency"
	"github.com/rcliao/novel-memory/internal/contextpack"
	"github.com/rcliao/novel-memory/internal/llm"
	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/plan"
	"github.com/rcliao/novel-memory/internal/search"
	"github.com/rcliao/novel-memory/internal/store"
	"github.com/rcliao/novel-memory/internal/textclean"
	"github.com/rcliao/novel-memory/internal/threads"
)

// memoryHits is how many search results a prompt carries.
const memoryHits = 8

// Options configures a Studio.
type Options struct {
	ProjectID   string
	Mode        string // config.ModeLightweight or config.ModeConsolidated
	InputBudget int    // context pack tokens
	TopKThreads int
	TargetWords int // draft length target, 0 for none
	JoinTimeout time.Duration
	Search      *search.Engine // optional memory hits for prompts
	Names       textclean.NameExtractor
	Logger      *slog.Logger
	Now         func() time.Time
}

// Studio drives one project's chapters through the pipeline. Stages of the
// same chapter never run concurrently.
type Studio struct {
	store   *store.SQLiteStore
	llm     llm.Client
	engine  *consistency.Engine
	tracker *threads.Tracker
	builder *contextpack.Builder
	opts    Options
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// New returns a studio over s and c.
func New(s *store.SQLiteStore, c llm.Client, opts Options) *Studio {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeConsolidated
	}
	if opts.Names == nil {
		opts.Names = textclean.HeuristicNames{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Studio{
		store:   s,
		llm:     c,
		engine:  consistency.NewEngine(),
		tracker: threads.NewTracker(s),
		builder: contextpack.NewBuilder(s, contextpack.Options{
			TotalBudget: opts.InputBudget,
			TopKThreads: opts.TopKThreads,
			Logger:      opts.Logger,
		}),
		opts:   opts,
		logger: opts.Logger,
		locks:  map[int]*sync.Mutex{},
	}
}

// Store returns the project store.
func (s *Studio) Store() *store.SQLiteStore { return s.store }

// lock serializes the stages of one chapter.
func (s *Studio) lock(chapter int) func() {
	s.mu.Lock()
	l, ok := s.locks[chapter]
	if !ok {
		l = &sync.Mutex{}
		s.locks[chapter] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Context builds the context pack for chapter. Threads are recomputed and
// OPEN_THREADS.md rewritten on the way.
func (s *Studio) Context(ctx context.Context, chapter int) (*model.ContextPack, error) {
	chapters, err := s.store.Chapters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return s.builder.Build(ctx, chapter, chapters)
}

// Threads recomputes every thread and rewrites OPEN_THREADS.md. With
// openOnly, resolved threads are dropped from the result.
func (s *Studio) Threads(ctx context.Context, openOnly bool) ([]model.OpenThread, error) {
	all, err := s.tracker.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if openOnly {
		return threads.Open(all), nil
	}
	return all, nil
}

// Plan generates and stores the plan of chapter n.
func (s *Studio) Plan(ctx context.Context, n int) (plan.Result, error) {
	defer s.lock(n)()

	ch, err := s.store.Chapter(ctx, n)
	if err != nil {
		return plan.Result{}, err
	}
	pack, err := s.Context(ctx, n)
	if err != nil {
		return plan.Result{}, fmt.Errorf("build context: %w", err)
	}
	hits := s.memoryHits(ctx, ch)

	gen := plan.GeneratorFunc(func(ctx context.Context, retry *plan.Retry) string {
		return s.llm.Chat(ctx, planMessages(ch, pack, hits, retry), llm.ChatOptions{Temperature: llm.Temperature(0.4)})
	})
	res := plan.NewPlanner(gen, s.logger).Plan(ctx, ch)

	p := res.Plan
	ch.Plan = &p
	if err := s.store.SaveChapter(ctx, &ch); err != nil {
		return res, err
	}
	s.logger.Info("chapter planned", "chapter", n, "source", res.Source,
		"score", res.Quality.Score, "status", res.Quality.Status, "beats", len(p.Beats))
	return res, nil
}

// memoryHits searches memory for the chapter title and goal. Search failures
// only cost the prompt its hits.
func (s *Studio) memoryHits(ctx context.Context, ch model.Chapter) []search.Result {
	if s.opts.Search == nil {
		return nil
	}
	q := strings.TrimSpace(ch.Title + " " + ch.Goal)
	if q == "" {
		return nil
	}
	res, err := s.opts.Search.Search(ctx, search.Query{
		Text:      q,
		Embedding: s.llm.Embed(ctx, q),
		TopK:      memoryHits,
	})
	if err != nil {
		s.logger.Warn("memory search failed", "chapter", ch.Number, "error", err)
		return nil
	}
	return res
}

const systemPrompt = "You are the director of a serialized novel. Keep every fact consistent with the story memory you are given."

func planMessages(ch model.Chapter, pack *model.ContextPack, hits []search.Result, retry *plan.Retry) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan chapter %d.\nTitle: %s\nGoal: %s\n\n", ch.Number, ch.Title, ch.Goal)
	writePack(&b, pack, hits)
	b.WriteString("\nReturn a JSON object with the keys beats (3-6 concrete scene steps), conflicts (at least 2), " +
		"foreshadowing (details to plant, objects may carry target_chapter), callback_targets (open items paid off " +
		"in this chapter) and role_goals (character name to goal).")
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
	if retry != nil {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: retry.Previous},
			llm.Message{Role: llm.RoleUser, Content: retry.Instruction + "\nIssues: " + strings.Join(retry.Issues, "; ")},
		)
	}
	return msgs
}

// writePack renders the non-empty context pack fields as prompt sections.
func writePack(b *strings.Builder, pack *model.ContextPack, hits []search.Result) {
	section := func(name, body string) {
		if body = strings.TrimSpace(body); body != "" {
			fmt.Fprintf(b, "## %s\n%s\n\n", name, body)
		}
	}
	if pack != nil {
		section("Identity", pack.IdentityCore)
		section("Runtime state", pack.RuntimeState)
		section("Memory", pack.MemoryCompact)
		section("Previous chapter", pack.PreviousSynopsis)
		if len(pack.OpenThreads) > 0 {
			section("Open threads", threads.Render(pack.OpenThreads))
		}
		if len(pack.PreviousChapters) > 0 {
			data, _ := json.Marshal(pack.PreviousChapters)
			section("Previous chapters", string(data))
		}
	}
	var lines []string
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s", h.Tier, h.Summary, chunker.Runes(h.Content, 200)))
	}
	section("Memory hits", strings.Join(lines, "\n"))
}
