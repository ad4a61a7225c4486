package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/novel-memory/internal/model"
)

// Lexical search methods.
const (
	MethodFTS  = "fts"
	MethodLike = "like"
)

const (
	maxSearchTerms = 12
	maxTermRunes   = 8
	windowRunes    = 6
	maxWindowRunes = 30
	snippetRunes   = 24
)

// termBreaks are CJK particles and conjunctions that split long query fragments.
const termBreaks = "的了和与在并及且将被把对从向为是有再又都而"

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\p{Han}]+`)

// SearchTerms splits a query into at most 12 unique terms of two or more runes.
// Whitespace splits first. A single unbroken fragment is split on punctuation,
// and fragments longer than eight runes are cut on CJK function characters or,
// failing that, into six-rune windows over the first thirty runes.
func SearchTerms(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	parts := strings.Fields(query)
	if len(parts) <= 1 {
		parts = nonWordRe.Split(query, -1)
	}

	var terms []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= maxTermRunes {
			terms = append(terms, p)
			continue
		}
		pieces := strings.FieldsFunc(p, func(r rune) bool { return strings.ContainsRune(termBreaks, r) })
		added := false
		if len(pieces) > 1 {
			for _, piece := range pieces {
				if utf8.RuneCountInString(piece) >= 2 {
					terms = append(terms, truncRunes(piece, maxTermRunes))
					added = true
				}
			}
		}
		if added {
			continue
		}
		r := []rune(p)
		limit := min(len(r), maxWindowRunes)
		for i := 0; i < limit; i += windowRunes {
			terms = append(terms, string(r[i:min(i+windowRunes, limit)]))
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, t := range terms {
		if utf8.RuneCountInString(t) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxSearchTerms {
			break
		}
	}
	return out
}

func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ftsQuery joins terms as quoted FTS5 phrases combined with OR.
func ftsQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SearchLexical runs an FTS5 bm25 query over memory items, falling back to a
// LIKE scan when FTS fails or finds nothing. Scores are normalized to [0,1].
func (s *SQLiteStore) SearchLexical(ctx context.Context, query string, tiers []model.Tier, limit int) ([]LexicalHit, error) {
	if limit <= 0 {
		limit = 30
	}
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.searchFTS(ctx, terms, tiers, limit)
	if err != nil {
		s.opts.Logger.Warn("fts search failed, using like fallback", "error", err)
	}
	if len(hits) > 0 {
		return hits, nil
	}
	hits, err = s.searchLike(ctx, terms, tiers, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return hits, nil
}

func tierFilter(alias string, tiers []model.Tier) (string, []any) {
	if len(tiers) == 0 {
		return "", nil
	}
	args := make([]any, len(tiers))
	for i, t := range tiers {
		args[i] = string(t)
	}
	return " AND " + alias + "tier IN (" + placeholders(len(tiers)) + ")", args
}

func (s *SQLiteStore) searchFTS(ctx context.Context, terms []string, tiers []model.Tier, limit int) ([]LexicalHit, error) {
	filter, filterArgs := tierFilter("m.", tiers)
	q := `
		SELECT m.id, m.tier, m.source_path, m.summary, m.content, bm25(memory_fts) AS rank,
		       snippet(memory_fts, 1, '[[H]]', '[[/H]]', ' ... ', ` + fmt.Sprint(snippetRunes) + `)
		FROM memory_fts
		JOIN memory_items m ON m.rowid = memory_fts.rowid
		WHERE memory_fts MATCH ?` + filter + `
		ORDER BY rank, m.id
		LIMIT ?`
	args := append([]any{ftsQuery(terms)}, filterArgs...)
	args = append(args, limit)

	var hits []LexicalHit
	err := s.heal("fts search", func() error {
		hits = nil
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h LexicalHit
			var tier string
			var rank float64
			if err := rows.Scan(&h.ItemID, &tier, &h.SourcePath, &h.Summary, &h.Content, &rank, &h.Evidence); err != nil {
				return err
			}
			h.Tier = tier
			if rank < 0 {
				rank = -rank
			}
			h.Score = rank
			h.Method = MethodFTS
			hits = append(hits, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	best := 0.0
	for _, h := range hits {
		best = max(best, h.Score)
	}
	for i := range hits {
		if best > 0 {
			hits[i].Score /= best
		} else {
			hits[i].Score = 1
		}
	}
	return hits, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLiteStore) searchLike(ctx context.Context, terms []string, tiers []model.Tier, limit int) ([]LexicalHit, error) {
	var conds []string
	var args []any
	for _, t := range terms {
		pat := "%" + likeEscaper.Replace(t) + "%"
		conds = append(conds, `(summary LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat)
	}
	filter, filterArgs := tierFilter("", tiers)
	q := `SELECT id, tier, source_path, summary, content FROM memory_items WHERE (` +
		strings.Join(conds, " OR ") + `)` + filter
	args = append(args, filterArgs...)

	var hits []LexicalHit
	err := s.heal("like search", func() error {
		hits = nil
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h LexicalHit
			if err := rows.Scan(&h.ItemID, &h.Tier, &h.SourcePath, &h.Summary, &h.Content); err != nil {
				return err
			}
			matched := 0
			first := ""
			haystack := strings.ToLower(h.Summary + "\n" + h.Content)
			for _, t := range terms {
				if strings.Contains(haystack, strings.ToLower(t)) {
					matched++
					if first == "" {
						first = t
					}
				}
			}
			if matched == 0 {
				continue
			}
			h.Score = float64(matched) / float64(len(terms))
			h.Evidence = highlight(h.Content, first)
			h.Method = MethodLike
			hits = append(hits, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ItemID < hits[j].ItemID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// highlight returns a snippet of text around the first occurrence of term.
func highlight(text, term string) string {
	idx := strings.Index(text, term)
	if idx < 0 || term == "" {
		return truncRunes(text, snippetRunes*2)
	}
	before := []rune(text[:idx])
	after := []rune(text[idx+len(term):])
	start := max(0, len(before)-snippetRunes)
	end := min(len(after), snippetRunes)
	var b strings.Builder
	if start > 0 {
		b.WriteString("... ")
	}
	b.WriteString(string(before[start:]))
	b.WriteString("[[H]]" + term + "[[/H]]")
	b.WriteString(string(after[:end]))
	if end < len(after) {
		b.WriteString(" ...")
	}
	return b.String()
}
