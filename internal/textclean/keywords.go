package textclean

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/orsinium-labs/stopwords"
)

// MinKeywordLength is the shortest keyword kept, in runes.
const MinKeywordLength = 2

// maxHanKeyword is the longest Han segment kept whole; longer ones are cut into pairs.
const maxHanKeyword = 4

// FunctionChars are Han function words that separate content segments.
const FunctionChars = "的了和与在是有不这那也都就而但又或被把对从向为以到让给用将会并及且再"

var (
	keywordTokenRe = regexp.MustCompile(`[a-zA-Z0-9_]+|\p{Han}+`)
	english        = stopwords.MustGet("en")
)

// Keywords extracts unique lowercase keywords in first-occurrence order.
// Latin words drop English stopwords; Han runs split on function characters.
func Keywords(text string) []string {
	if text == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(k string) {
		if len([]rune(k)) < MinKeywordLength || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
	}

	for _, tok := range keywordTokenRe.FindAllString(text, -1) {
		if isHan(tok) {
			for _, seg := range splitHan(tok) {
				r := []rune(seg)
				if len(r) <= maxHanKeyword {
					add(seg)
					continue
				}
				for i := 0; i+1 < len(r); i += 2 {
					add(string(r[i : i+2]))
				}
			}
			continue
		}
		t := strings.ToLower(tok)
		if english.Contains(t) {
			continue
		}
		add(t)
	}
	return out
}

// Overlap returns the keywords of a that also appear in b, preserving a's order.
func Overlap(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, k := range b {
		set[k] = true
	}
	var out []string
	for _, k := range a {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}

// ContainedIn returns the keywords that occur as substrings of text.
func ContainedIn(keywords []string, text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			out = append(out, k)
		}
	}
	return out
}

func splitHan(run string) []string {
	return strings.FieldsFunc(run, func(r rune) bool {
		return strings.ContainsRune(FunctionChars, r)
	})
}

func isHan(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.Is(unicode.Han, r)
}

// WordCount counts Han characters individually and other runs of letters or
// digits as one word each.
func WordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			n++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return n
}
