package contextpack

import (
	"fmt"
	"strings"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
)

// SynopsisRunes caps a generated synopsis.
const SynopsisRunes = 300

const (
	planPart  = 120
	paraPart  = 120
	textAfter = 178
)

// Synopsis summarizes a chapter from its plan title and goal fused with the
// first and last paragraphs of its text. It never returns an empty string.
func Synopsis(chapter int, text string, plan *model.ChapterPlan) string {
	var planText string
	if plan != nil {
		var parts []string
		for _, p := range []string{plan.Title, plan.Goal} {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		planText = strings.Join(parts, "; ")
	}

	var textPart string
	if paras := chunker.Paragraphs(text); len(paras) > 0 {
		first, last := paras[0], paras[len(paras)-1]
		if len(paras) > 1 && last != first {
			textPart = chunker.Runes(first, paraPart) + "…" + chunker.Runes(last, paraPart)
		} else {
			textPart = chunker.Runes(first, SynopsisRunes)
		}
	}

	switch {
	case planText != "" && textPart != "":
		return ellipsize(chunker.Runes(planText, planPart) + " | " + chunker.Runes(textPart, textAfter))
	case planText != "":
		return ellipsize(planText)
	case textPart != "":
		return ellipsize(textPart)
	}
	return fmt.Sprintf("Chapter %d summary", chapter)
}

func ellipsize(s string) string {
	r := []rune(s)
	if len(r) <= SynopsisRunes {
		return s
	}
	return string(r[:SynopsisRunes-1]) + "…"
}
