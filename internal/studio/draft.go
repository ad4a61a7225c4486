package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/novel-memory/internal/llm"
	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/search"
)

// MinDraftRunes is the shortest model draft kept; anything shorter is
// replaced by a draft built from the plan beats.
const MinDraftRunes = 80

// Bounds are the length targets derived from a target word count.
type Bounds struct {
	Target    int `json:"target"`
	Lower     int `json:"lower"`
	IdealLow  int `json:"ideal_low"`
	IdealHigh int `json:"ideal_high"`
	SoftUpper int `json:"soft_upper"`
}

// LengthBounds derives draft bounds from target. Targets under 300 count as 300.
func LengthBounds(target int) Bounds {
	t := max(target, 300)
	b := Bounds{Target: t}
	b.Lower = max(300, int(float64(t)*0.86))
	b.IdealLow = max(b.Lower, int(float64(t)*0.93))
	b.IdealHigh = max(b.IdealLow+80, int(float64(t)*1.08))
	b.SoftUpper = max(b.IdealHigh+200, int(float64(t)*1.25))
	return b
}

func lengthInstruction(target int) string {
	if target <= 0 {
		return ""
	}
	b := LengthBounds(target)
	return fmt.Sprintf(" Aim for about %d words, ideally %d-%d. Under %d is too thin; over %d is padded.",
		b.Target, b.IdealLow, b.IdealHigh, b.Lower, b.SoftUpper)
}

// Draft writes chapter n from its plan, streaming deltas to onDelta, and
// stores the sanitized text as the chapter draft. A chapter without a plan is
// planned first.
func (s *Studio) Draft(ctx context.Context, n int, onDelta func(string)) (model.Chapter, error) {
	ch, err := s.store.Chapter(ctx, n)
	if err != nil {
		return ch, err
	}
	if ch.Plan == nil {
		if _, err := s.Plan(ctx, n); err != nil {
			return ch, fmt.Errorf("plan chapter %d: %w", n, err)
		}
	}
	defer s.lock(n)()
	if ch, err = s.store.Chapter(ctx, n); err != nil {
		return ch, err
	}

	pack, err := s.Context(ctx, n)
	if err != nil {
		return ch, fmt.Errorf("build context: %w", err)
	}
	msgs := draftMessages(ch, pack, s.memoryHits(ctx, ch), s.opts.TargetWords)
	raw := llm.NewStream(ctx, s.llm, msgs, llm.ChatOptions{}, s.opts.JoinTimeout).Collect(ctx, onDelta)
	if err := ctx.Err(); err != nil {
		return ch, err
	}

	ch.Draft = SanitizeDraft(raw, ch)
	ch.Status = model.StatusDraft
	if err := s.store.SaveChapter(ctx, &ch); err != nil {
		return ch, err
	}
	s.logger.Info("chapter drafted", "chapter", n, "raw_runes", utf8.RuneCountInString(raw),
		"words", ch.WordCount, "offline", llm.IsOffline(raw))
	return ch, nil
}

func draftMessages(ch model.Chapter, pack *model.ContextPack, hits []search.Result, target int) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d: %s\nGoal: %s\n\n", ch.Number, ch.Title, ch.Goal)
	if ch.Plan != nil {
		data, _ := json.Marshal(ch.Plan)
		fmt.Fprintf(&b, "## Plan\n%s\n\n", data)
	}
	writePack(&b, pack, hits)
	b.WriteString("Write the chapter text only: no heading, no notes, no explanation." + lengthInstruction(target))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

var (
	thinkTagRe    = regexp.MustCompile(`(?is)<\s*think(?:ing)?\s*>.*?<\s*/\s*think(?:ing)?\s*>`)
	thinkLineRe   = regexp.MustCompile(`(?im)^\s*(?:thinking|thoughts?)\s*[:：].*(?:\n|$)`)
	thinkFenceRe  = regexp.MustCompile("(?is)```(?:thinking|reasoning)\\s*.*?```")
	openFenceRe   = regexp.MustCompile("^```(?:markdown|md)?")
	closeFenceRe  = regexp.MustCompile("```$")
	chapterHeadRe = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:第\s*[0-9一二三四五六七八九十百千零两]+\s*章|chapter\s+\d+)[^\n]*\n`)
	blankRunRe    = regexp.MustCompile(`\n[ \t]*(?:\n[ \t]*){2,}`)
)

// SanitizeDraft strips reasoning blocks, wrapping fences and a leading
// chapter heading from model output, and collapses runs of blank lines.
// Offline placeholders and drafts under MinDraftRunes are replaced by a
// draft built from the chapter plan.
func SanitizeDraft(raw string, ch model.Chapter) string {
	content := strings.TrimSpace(raw)
	if llm.IsOffline(content) {
		content = ""
	}
	content = thinkTagRe.ReplaceAllString(content, "")
	content = thinkLineRe.ReplaceAllString(content, "")
	content = thinkFenceRe.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if utf8.RuneCountInString(content) < MinDraftRunes {
		content = fallbackDraft(ch)
	}
	content = strings.TrimSpace(openFenceRe.ReplaceAllString(content, ""))
	content = strings.TrimSpace(closeFenceRe.ReplaceAllString(content, ""))
	content = chapterHeadRe.ReplaceAllString(content+"\n", "")
	content = blankRunRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// fallbackDraft is the minimal three-paragraph draft used when the model
// produced nothing usable.
func fallbackDraft(ch model.Chapter) string {
	beats := []string{"The scene opens on the conflict", "The middle strains the relationships", "The ending leaves a question open"}
	if ch.Plan != nil {
		for i, b := range ch.Plan.Beats {
			if i == len(beats) {
				break
			}
			if b = strings.TrimSpace(b); b != "" {
				beats[i] = strings.TrimRight(b, ".。")
			}
		}
	}
	goal := strings.TrimSpace(ch.Goal)
	if goal == "" {
		goal = ch.Title
	}
	return fmt.Sprintf("Snow pressed on the city as the protagonist stopped in the wind and weighed what this chapter demanded: %s. "+
		"The street lamps flickered, and every choice tonight would leave a cost.\n\n"+
		"%s. What followed forced a truth nobody wanted to touch. %s, and the old trust began to crack.\n\n"+
		"%s. In the last moment a single detail came into view, and the real turn still waited in the next chapter.",
		goal, beats[0], beats[1], beats[2])
}
