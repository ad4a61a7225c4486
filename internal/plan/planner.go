package plan

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
)

// RetryInstruction is sent with the second attempt.
const RetryInstruction = "The previous plan was not good enough; rewrite it completely. " +
	"Output a strict JSON object with exactly the keys beats, conflicts, foreshadowing, callback_targets, role_goals. " +
	"beats must have 3 to 6 items, each with a concrete character action that moves the scene. " +
	"Do not use stock lines such as \"the opening establishes the chapter goal\" or \"the ending leaves a cliffhanger\". " +
	"conflicts needs at least 2 items, one external obstacle and one internal conflict of values."

// Retry carries the first attempt back to the generator.
type Retry struct {
	Previous    string
	Issues      []string
	Instruction string
}

// Generator produces raw plan text. retry is nil on the first attempt.
type Generator interface {
	GeneratePlan(ctx context.Context, retry *Retry) string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, retry *Retry) string

func (f GeneratorFunc) GeneratePlan(ctx context.Context, retry *Retry) string { return f(ctx, retry) }

// Planner generates a plan and retries once when the first is poor.
type Planner struct {
	gen    Generator
	logger *slog.Logger
}

// NewPlanner returns a Planner. A nil logger means slog.Default().
func NewPlanner(gen Generator, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gen: gen, logger: logger}
}

// Plan generates and parses a plan for ch. When the first result needs a
// retry, the generator is asked exactly once more with the detected issues,
// and the retry is kept when it scores at least as well.
func (p *Planner) Plan(ctx context.Context, ch model.Chapter) Result {
	first := Parse(p.gen.GeneratePlan(ctx, nil), ch)
	res := first
	res.Quality.Attempts = 1

	if first.Quality.NeedsRetry() {
		text := p.gen.GeneratePlan(ctx, &Retry{
			Previous:    first.Text,
			Issues:      first.Quality.Issues,
			Instruction: RetryInstruction,
		})
		second := Parse(text, ch)
		if second.Quality.Score >= first.Quality.Score {
			res = second
		}
		res.Quality.Attempts = 2
		res.Quality.Retried = true
	}

	if res.Quality.Status != StatusOK {
		p.logger.Warn("plan quality warning",
			"chapter", ch.Number,
			"status", res.Quality.Status,
			"score", res.Quality.Score,
			"source", res.Source,
			"defaulted_fields", strings.Join(res.Quality.DefaultedFields, ","),
			"template_hits", res.Quality.TemplateHits,
			"retried", res.Quality.Retried,
			"preview", chunker.Runes(res.Text, 260))
	}
	return res
}
