package textclean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPseudoFieldLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"id: 3, type: item", true},
		{"source_chapter target goal", true},
		{"The jade pendant hides a map", false},
		{"description of the sword", false},
		{"", false},
		{"神秘玉佩的来历", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPseudoFieldLine(tt.line, nil), "line %q", tt.line)
	}
}

func TestIsPseudoFieldLine_CustomBlocklist(t *testing.T) {
	assert.True(t, IsPseudoFieldLine("todo todo note", map[string]bool{"todo": true}))
}

func TestCleanForeshadowing(t *testing.T) {
	in := "type: item\nA stranger leaves a bronze key\n\nid target"
	got := CleanForeshadowing(in, nil)
	assert.Equal(t, "A stranger leaves a bronze key\n", got)
	assert.Equal(t, "", CleanForeshadowing("", nil))
}

func TestKeywords_Latin(t *testing.T) {
	got := Keywords("The bronze Key unlocks the bronze vault")
	assert.Contains(t, got, "bronze")
	assert.Contains(t, got, "vault")
	assert.NotContains(t, got, "the")
	count := 0
	for _, k := range got {
		if k == "bronze" {
			count++
		}
	}
	assert.Equal(t, 1, count, "keywords are unique")
}

func TestKeywords_Han(t *testing.T) {
	got := Keywords("神秘玉佩的来历")
	assert.Equal(t, []string{"神秘玉佩", "来历"}, got)

	long := Keywords("青铜钥匙开启古老石门")
	require.NotEmpty(t, long)
	for _, k := range long {
		assert.Equal(t, 2, len([]rune(k)), "long Han runs are cut into pairs: %q", k)
	}
}

func TestKeywords_DropsShort(t *testing.T) {
	assert.Empty(t, Keywords("a b c 的"))
}

func TestOverlapAndContained(t *testing.T) {
	a := []string{"bronze", "key", "door"}
	assert.Equal(t, []string{"bronze", "door"}, Overlap(a, []string{"door", "bronze"}))
	assert.Equal(t, []string{"key"}, ContainedIn(a, "She found the KEY under a rock"))
}

func TestExtractCandidateNames(t *testing.T) {
	var ex NameExtractor = HeuristicNames{}

	han := ex.ExtractCandidateNames("雪夜里，林远低声说：走吧。王教授点头。")
	assert.Contains(t, han, "林远")
	assert.Contains(t, han, "王教授")

	latin := ex.ExtractCandidateNames("Mara said nothing. Captain Reyes frowned. He said no.")
	assert.Contains(t, latin, "Mara")
	assert.Contains(t, latin, "Captain Reyes")
	assert.NotContains(t, latin, "He")
}

func TestExtractCandidateNames_Limit(t *testing.T) {
	got := HeuristicNames{Max: 1}.ExtractCandidateNames("Mara said hi. Jon said bye.")
	assert.Len(t, got, 1)
	assert.Nil(t, HeuristicNames{}.ExtractCandidateNames("   "))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 3, WordCount("the bronze key"))
	assert.Equal(t, 4, WordCount("玉佩碎了"))
	assert.Equal(t, 4, WordCount("Mara 拿起 it."))
}
