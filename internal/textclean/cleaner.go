// Package textclean filters structural boilerplate out of generated plan text
// and extracts matching keywords and candidate character names.
package textclean

import (
	"regexp"
	"strings"
)

// DefaultBlocklist holds field names that leak into plans as pseudo-narrative.
var DefaultBlocklist = map[string]bool{
	"id":             true,
	"description":    true,
	"item":           true,
	"target":         true,
	"source_chapter": true,
	"potential_use":  true,
	"type":           true,
	"goal":           true,
}

// pseudoFieldRatio is the blocked-token share above which a line is discarded.
const pseudoFieldRatio = 0.5

// fieldTokenRe matches latin word runs or single Han characters.
var fieldTokenRe = regexp.MustCompile(`[a-zA-Z0-9_]+|\p{Han}`)

// IsPseudoFieldLine reports whether more than half of the line's tokens are blocklisted.
func IsPseudoFieldLine(line string, blocklist map[string]bool) bool {
	if blocklist == nil {
		blocklist = DefaultBlocklist
	}
	tokens := fieldTokenRe.FindAllString(line, -1)
	if len(tokens) == 0 {
		return false
	}
	blocked := 0
	for _, t := range tokens {
		if blocklist[strings.ToLower(t)] {
			blocked++
		}
	}
	return float64(blocked)/float64(len(tokens)) > pseudoFieldRatio
}

// CleanForeshadowing drops pseudo-field lines, keeping blank lines and line order.
func CleanForeshadowing(text string, blocklist map[string]bool) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0:0]
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || !IsPseudoFieldLine(stripped, blocklist) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
