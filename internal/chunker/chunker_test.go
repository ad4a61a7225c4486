package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSections_Empty(t *testing.T) {
	if got := Sections(""); len(got) != 0 {
		t.Errorf("expected no sections, got %v", got)
	}
}

func TestSections_SplitsOnHeadings(t *testing.T) {
	text := "# MEMORY\n\n## Chapter Decisions\n\n### Chapter 1\n- done\n\n### Chapter 2\n- pending\n\n## Pending Items\n"
	got := Sections(text)
	if len(got) != 5 {
		t.Fatalf("expected 5 sections, got %d: %+v", len(got), got)
	}
	if got[2].Heading != "Chapter 1" || got[2].Level != 3 {
		t.Errorf("unexpected third section %+v", got[2])
	}
	if got[2].Body != "- done" {
		t.Errorf("expected body '- done', got %q", got[2].Body)
	}
	if got[2].StartLine != 5 {
		t.Errorf("expected StartLine 5, got %d", got[2].StartLine)
	}
}

func TestSections_Preamble(t *testing.T) {
	got := Sections("intro line\n# Title\nbody")
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(got))
	}
	if got[0].Level != 0 || got[0].Body != "intro line" {
		t.Errorf("unexpected preamble %+v", got[0])
	}
}

func TestHeadingLevel(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"# A", 1},
		{"### Chapter 3", 3},
		{"#hashtag", 0},
		{"plain", 0},
		{"####### too deep", 0},
		{"  ## indented", 2},
	}
	for _, tt := range tests {
		if got := HeadingLevel(tt.line); got != tt.want {
			t.Errorf("HeadingLevel(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func isChapter(n string) func(string) bool {
	return func(h string) bool { return h == "Chapter "+n }
}

func TestReplaceSection_ReplacesExisting(t *testing.T) {
	doc := "# MEMORY\n\n## Chapter Decisions\n\n### Chapter 1\n- old\n\n### Chapter 2\n- keep\n\n## Pending Items\n"
	out, replaced := ReplaceSection(doc, isChapter("1"), "Chapter Decisions", "### Chapter 1\n- new")
	if !replaced {
		t.Fatal("expected replacement")
	}
	if strings.Contains(out, "- old") {
		t.Errorf("old entry still present:\n%s", out)
	}
	if strings.Count(out, "### Chapter 1") != 1 {
		t.Errorf("expected exactly one chapter 1 entry:\n%s", out)
	}
	if !strings.Contains(out, "### Chapter 2\n- keep") {
		t.Errorf("sibling entry lost:\n%s", out)
	}
	if !strings.Contains(out, "## Pending Items") {
		t.Errorf("following section lost:\n%s", out)
	}
}

func TestReplaceSection_AppendsUnderParent(t *testing.T) {
	doc := "# MEMORY\n\n## Chapter Decisions\n\n## Pending Items\n- x\n"
	out, replaced := ReplaceSection(doc, isChapter("4"), "Chapter Decisions", "### Chapter 4\n- added")
	if replaced {
		t.Fatal("did not expect replacement")
	}
	entry := strings.Index(out, "### Chapter 4")
	pending := strings.Index(out, "## Pending Items")
	if entry < 0 || pending < 0 || entry > pending {
		t.Errorf("entry should be inserted before the next section:\n%s", out)
	}
}

func TestReplaceSection_Idempotent(t *testing.T) {
	doc := "# MEMORY\n\n## Chapter Decisions\n"
	once, _ := ReplaceSection(doc, isChapter("2"), "Chapter Decisions", "### Chapter 2\n- v")
	twice, _ := ReplaceSection(once, isChapter("2"), "Chapter Decisions", "### Chapter 2\n- v")
	if once != twice {
		t.Errorf("second write changed document:\n%q\n%q", once, twice)
	}
}

func TestParagraphs(t *testing.T) {
	got := Paragraphs("first\n\n\n second \n\nthird")
	if len(got) != 3 || got[1] != "second" {
		t.Errorf("unexpected paragraphs %q", got)
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{"fits", "short.", 10, "short."},
		{"zero budget", "anything", 0, ""},
		{"sentence backoff", "One two three. Four five six", 20, "One two three."},
		{"hard cut", "abcdefghijklmnop", 5, "abcde"},
		{"cjk sentence", "他走进雪夜。风很冷，灯火渐远", 10, "他走进雪夜。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Clip(tt.text, tt.max, 0.6)
			if got != tt.want {
				t.Errorf("Clip(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
			if utf8.RuneCountInString(got) > tt.max && tt.max > 0 {
				t.Errorf("clip exceeded budget: %d runes", utf8.RuneCountInString(got))
			}
		})
	}
}

func TestRunes(t *testing.T) {
	if got := Runes("伏笔回收", 2); got != "伏笔" {
		t.Errorf("Runes = %q", got)
	}
	if got := Runes("ab", 5); got != "ab" {
		t.Errorf("Runes = %q", got)
	}
}
