// Package chunker splits markdown memory documents into heading sections and
// clips narrative text to a rune budget.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultBackoff is the trailing share of a clip window searched for a sentence end.
const DefaultBackoff = 0.3

// Section is a heading and the lines under it, up to the next heading of the
// same or a higher level.
type Section struct {
	Level     int // 0 for the preamble before the first heading
	Heading   string
	Body      string
	StartLine int // 1-based, heading line
	EndLine   int // inclusive
}

// Text renders the section back to markdown.
func (s Section) Text() string {
	if s.Level == 0 {
		return s.Body
	}
	head := strings.Repeat("#", s.Level) + " " + s.Heading
	if s.Body == "" {
		return head
	}
	return head + "\n" + s.Body
}

// HeadingLevel returns the ATX heading level of a line, or 0.
func HeadingLevel(line string) int {
	trimmed := strings.TrimSpace(line)
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n < len(trimmed) && trimmed[n] != ' ' && trimmed[n] != '\t' {
		return 0
	}
	return n
}

// Sections splits text on every heading line. Nested headings start their own
// section; the parent's body stops where the child begins.
func Sections(text string) []Section {
	lines := strings.Split(text, "\n")
	var out []Section
	cur := Section{StartLine: 1}
	var body []string

	flush := func(end int) {
		cur.Body = strings.TrimRight(strings.Join(body, "\n"), "\n ")
		cur.Body = strings.TrimLeft(cur.Body, "\n")
		cur.EndLine = end
		if cur.Level > 0 || strings.TrimSpace(cur.Body) != "" {
			out = append(out, cur)
		}
		body = nil
	}

	for i, line := range lines {
		if lvl := HeadingLevel(line); lvl > 0 {
			flush(i)
			cur = Section{
				Level:     lvl,
				Heading:   strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#")),
				StartLine: i + 1,
			}
			continue
		}
		body = append(body, line)
	}
	flush(len(lines))
	return out
}

// ReplaceSection swaps the first section whose heading satisfies match, together
// with any deeper sections nested under it, for replacement. When nothing
// matches, replacement is appended under the last section whose heading equals
// parent, or at the end of the document. The boolean reports whether an
// existing section was replaced.
func ReplaceSection(text string, match func(heading string) bool, parent string, replacement string) (string, bool) {
	lines := strings.Split(text, "\n")
	start, level := -1, 0
	for i, line := range lines {
		lvl := HeadingLevel(line)
		if lvl == 0 {
			continue
		}
		if match(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))) {
			start, level = i, lvl
			break
		}
	}

	replacement = strings.Trim(replacement, "\n")
	if start >= 0 {
		end := len(lines)
		for j := start + 1; j < len(lines); j++ {
			if lvl := HeadingLevel(lines[j]); lvl > 0 && lvl <= level {
				end = j
				break
			}
		}
		var b strings.Builder
		b.WriteString(strings.Join(lines[:start], "\n"))
		if start > 0 {
			b.WriteString("\n")
		}
		b.WriteString(replacement)
		b.WriteString("\n")
		if end < len(lines) {
			b.WriteString("\n")
			b.WriteString(strings.Join(lines[end:], "\n"))
		}
		return b.String(), true
	}

	insertAt := len(lines)
	if parent != "" {
		for i, line := range lines {
			lvl := HeadingLevel(line)
			if lvl == 0 || strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#")) != parent {
				continue
			}
			insertAt = len(lines)
			for j := i + 1; j < len(lines); j++ {
				if l := HeadingLevel(lines[j]); l > 0 && l <= lvl {
					insertAt = j
					break
				}
			}
			break
		}
	}

	head := strings.TrimRight(strings.Join(lines[:insertAt], "\n"), "\n ")
	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n\n")
	b.WriteString(replacement)
	b.WriteString("\n")
	if insertAt < len(lines) {
		b.WriteString("\n")
		b.WriteString(strings.Join(lines[insertAt:], "\n"))
	}
	return b.String(), false
}

// Paragraphs splits on blank lines and drops empty paragraphs.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Runes truncates s to at most n runes.
func Runes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Clip truncates text to at most maxRunes runes. When a sentence terminator sits
// within the trailing backoff share of the window the cut moves back to it.
func Clip(text string, maxRunes int, backoff float64) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= maxRunes {
		return text
	}
	window := r[:maxRunes]
	floor := maxRunes - int(float64(maxRunes)*backoff)
	for i := len(window) - 1; i >= floor && i >= 0; i-- {
		if isSentenceEnd(window[i]) {
			return string(window[:i+1])
		}
	}
	return string(window)
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '…', '.', '!', '?', '\n':
		return true
	}
	return false
}
