package consistency

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
)

// DeathWords mark death or a body in a scene.
var DeathWords = []string{
	"死亡", "去世", "死了", "被杀", "被刺", "断气", "咽气", "心脏停止",
	"died", "dies", "dead", "killed", "slain", "murdered", "stabbed", "breathed their last", "heart stopped",
}

// HostileWords mark hostile action between characters.
var HostileWords = []string{
	"杀死", "杀掉", "消灭", "对抗", "敌对", "背叛",
	"kill", "destroy", "attack", "betray", "ambush", "murder", "assault", "turned against", "fought against",
}

// regularSuffixes are the English endings an inflected vocabulary accepts.
var regularSuffixes = []string{"s", "es", "d", "ed", "ing"}

// hit is one vocabulary match, in runes of the scanned text.
type hit struct {
	pattern int
	start   int
	end     int
}

// vocab scans text for a fixed word list in one pass.
type vocab struct {
	words []string
	ac    *ahocorasick.Automaton
	fold  bool // lowercase words and text
	whole bool // latin words must not sit inside a longer word
	// inflect lets a whole latin word continue with a regular suffix.
	inflect bool
}

// newVocab compiles words. Empty words are ignored.
func newVocab(words []string, fold, whole bool) *vocab {
	v := &vocab{fold: fold, whole: whole}
	seen := map[string]bool{}
	for _, w := range words {
		if fold {
			w = strings.ToLower(w)
		}
		if w != "" && !seen[w] {
			seen[w] = true
			v.words = append(v.words, w)
		}
	}
	if len(v.words) == 0 {
		return v
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(v.words).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return v
	}
	v.ac = ac
	return v
}

// scan returns every occurrence of every word in text.
func (v *vocab) scan(text string) []hit {
	if len(v.words) == 0 || text == "" {
		return nil
	}
	if v.fold {
		text = strings.ToLower(text)
	}
	if v.ac == nil {
		return v.scanSlow(text)
	}
	ms := v.ac.FindAllOverlapping([]byte(text))
	out := make([]hit, 0, len(ms))
	for _, m := range ms {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End || !v.bounded(text, m.Start, m.End) {
			continue
		}
		start := utf8.RuneCountInString(text[:m.Start])
		out = append(out, hit{
			pattern: m.PatternID,
			start:   start,
			end:     start + utf8.RuneCountInString(text[m.Start:m.End]),
		})
	}
	return out
}

// scanSlow covers the case where the automaton failed to build.
func (v *vocab) scanSlow(text string) []hit {
	var out []hit
	for i, w := range v.words {
		from := 0
		for {
			j := strings.Index(text[from:], w)
			if j < 0 {
				break
			}
			b := from + j
			from = b + len(w)
			if !v.bounded(text, b, b+len(w)) {
				continue
			}
			start := utf8.RuneCountInString(text[:b])
			out = append(out, hit{pattern: i, start: start, end: start + utf8.RuneCountInString(w)})
		}
	}
	return out
}

// inflected returns v matching regular inflections, so "attack" also finds
// "attacks" and "attacked".
func (v *vocab) inflected() *vocab {
	v.inflect = true
	return v
}

// bounded rejects latin matches inside a longer word, so "kill" skips "skill".
func (v *vocab) bounded(text string, start, end int) bool {
	if !v.whole {
		return true
	}
	if isLatin(text[start]) && start > 0 && isLatin(text[start-1]) {
		return false
	}
	if isLatin(text[end-1]) && end < len(text) && isLatin(text[end]) {
		return v.inflect && regularSuffix(text[end:])
	}
	return true
}

// regularSuffix reports whether the latin run opening rest is a regular suffix.
func regularSuffix(rest string) bool {
	n := 0
	for n < len(rest) && isLatin(rest[n]) {
		n++
	}
	return slices.Contains(regularSuffixes, rest[:n])
}

func isLatin(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// found returns the distinct words present in text, in word-list order.
func (v *vocab) found(text string) []string {
	seen := map[int]bool{}
	for _, h := range v.scan(text) {
		seen[h.pattern] = true
	}
	var out []string
	for i, w := range v.words {
		if seen[i] {
			out = append(out, w)
		}
	}
	return out
}

var (
	deathVocab   = newVocab(DeathWords, true, true)
	hostileVocab = newVocab(HostileWords, true, true).inflected()
)
