package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/consistency"
	"github.com/rcliao/novel-memory/internal/model"
)

// ErrBlocked is returned, wrapped in a *BlockedError, when a chapter with
// open P0 conflicts is approved.
var ErrBlocked = errors.New("chapter has unresolved P0 conflicts")

// BlockedError carries the conflicts that block approval.
type BlockedError struct {
	Chapter   int
	Conflicts []model.Conflict
}

func (e *BlockedError) Error() string {
	reasons := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		reasons = append(reasons, c.Reason)
	}
	return fmt.Sprintf("chapter %d: %d unresolved P0 conflicts: %s", e.Chapter, len(e.Conflicts), strings.Join(reasons, "; "))
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// ErrStillPresent is returned when resolving a P0 conflict that the chapter
// text still triggers. The text has to change first.
var ErrStillPresent = errors.New("P0 conflict still present in chapter text")

// tabooHeadings name the identity sections whose list items are taboos.
var tabooHeadings = []string{"taboos", "taboo", "禁忌"}

// Taboos returns the list items under the identity document's taboo headings.
func Taboos(identity string) []string {
	var out []string
	for _, sec := range chunker.Sections(identity) {
		if sec.Level == 0 || !isTabooHeading(sec.Heading) {
			continue
		}
		for _, line := range strings.Split(sec.Body, "\n") {
			line = strings.TrimSpace(line)
			item, ok := strings.CutPrefix(line, "- ")
			if !ok {
				item, ok = strings.CutPrefix(line, "* ")
			}
			if item = strings.TrimSpace(item); ok && item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func isTabooHeading(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, t := range tabooHeadings {
		if h == t {
			return true
		}
	}
	return false
}

// Check runs the consistency rules over chapter n's current text and stores
// the conflicts found. Earlier resolutions of the same conflicts are kept.
func (s *Studio) Check(ctx context.Context, n int) (consistency.Report, error) {
	defer s.lock(n)()
	return s.check(ctx, n)
}

func (s *Studio) check(ctx context.Context, n int) (consistency.Report, error) {
	ch, err := s.store.Chapter(ctx, n)
	if err != nil {
		return consistency.Report{}, err
	}
	c, err := s.ruleContext(ctx, ch)
	if err != nil {
		return consistency.Report{}, err
	}
	rep := s.engine.Check(ch.Text(), c)
	if err := s.store.SaveConflicts(ctx, n, rep.Conflicts); err != nil {
		return rep, err
	}
	s.logger.Info("chapter checked", "chapter", n, "p0", rep.P0Count, "p1", rep.P1Count, "p2", rep.P2Count,
		"can_submit", rep.CanSubmit)
	return rep, nil
}

// ruleContext gathers the story state a chapter is checked against.
func (s *Studio) ruleContext(ctx context.Context, ch model.Chapter) (consistency.Context, error) {
	c := consistency.Context{Chapter: ch.Number}
	var err error
	if c.Entities, err = s.store.Entities(ctx, ""); err != nil {
		return c, err
	}
	if c.Events, err = s.store.Events(ctx); err != nil {
		return c, err
	}
	if c.Identity, err = s.store.Identity(); err != nil {
		return c, err
	}
	c.Taboos = Taboos(c.Identity)

	chapters, err := s.store.Chapters(ctx)
	if err != nil {
		return c, fmt.Errorf("list chapters: %w", err)
	}
	for _, other := range chapters {
		if other.Plan != nil && other.Number < ch.Number {
			c.Foreshadows = append(c.Foreshadows, other.Plan.Foreshadows...)
		}
	}
	if ch.Plan != nil {
		c.Callbacks = ch.Plan.CallbackTargets
	}
	return c, nil
}

// Approve re-checks chapter n and, when the fresh report has no P0 conflict,
// marks it approved and writes it back to memory. Blocked chapters return a
// *BlockedError.
func (s *Studio) Approve(ctx context.Context, n int) (*WritebackReport, error) {
	defer s.lock(n)()

	rep, err := s.check(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("check chapter %d: %w", n, err)
	}
	if !rep.CanSubmit {
		return nil, &BlockedError{Chapter: n, Conflicts: rep.P0}
	}

	ch, err := s.store.Chapter(ctx, n)
	if err != nil {
		return nil, err
	}
	if ch.Final == "" {
		ch.Final = ch.Draft
	}
	ch.Status = model.StatusApproved
	if err := s.store.SaveChapter(ctx, &ch); err != nil {
		return nil, err
	}
	return s.writeback(ctx, ch)
}

// ResolveConflict marks a stored conflict fixed. A P0 conflict is only
// resolvable once the chapter text no longer triggers it.
func (s *Studio) ResolveConflict(ctx context.Context, id, note string) (model.Conflict, error) {
	c, err := s.store.Conflict(ctx, id)
	if err != nil {
		return c, err
	}
	defer s.lock(c.Chapter)()

	if c.Severity == model.SeverityP0 {
		present, err := s.stillPresent(ctx, c)
		if err != nil {
			return c, err
		}
		if present {
			return c, fmt.Errorf("resolve %s: %w", c.ID, ErrStillPresent)
		}
	}
	c = consistency.Resolve(c, note)
	return c, s.store.UpdateConflict(ctx, c)
}

// stillPresent reruns the rules over c's chapter without storing anything.
func (s *Studio) stillPresent(ctx context.Context, c model.Conflict) (bool, error) {
	ch, err := s.store.Chapter(ctx, c.Chapter)
	if err != nil {
		return false, err
	}
	rc, err := s.ruleContext(ctx, ch)
	if err != nil {
		return false, err
	}
	for _, cur := range s.engine.Check(ch.Text(), rc).P0 {
		if cur.ID == c.ID {
			return true, nil
		}
	}
	return false, nil
}

// ExemptConflict accepts a stored P1 conflict as intentional.
func (s *Studio) ExemptConflict(ctx context.Context, id, reason string) (model.Conflict, error) {
	c, err := s.store.Conflict(ctx, id)
	if err != nil {
		return c, err
	}
	if c, err = consistency.Exempt(c, reason); err != nil {
		return c, err
	}
	return c, s.store.UpdateConflict(ctx, c)
}
