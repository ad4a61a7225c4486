// Package plan turns raw model output into a chapter plan. Parsing never
// fails: each result is tagged with the stage of the fallback chain that
// produced it and scored for quality.
package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
)

// Source tags which stage of the parse chain produced a plan.
type Source string

const (
	SourceStructured    Source = "structured"
	SourceSectionHeaded Source = "section_headed"
	SourceFallback      Source = "fallback"
)

// Plan fields, as named in the model output.
const (
	FieldBeats           = "beats"
	FieldConflicts       = "conflicts"
	FieldForeshadowing   = "foreshadowing"
	FieldCallbackTargets = "callback_targets"
	FieldRoleGoals       = "role_goals"
)

var listFields = []string{FieldBeats, FieldConflicts, FieldForeshadowing, FieldCallbackTargets}

// Result is a parsed plan with its provenance and quality.
type Result struct {
	Plan    model.ChapterPlan `json:"plan"`
	Source  Source            `json:"source"`
	Quality Quality           `json:"quality"`
	Text    string            `json:"-"`
}

// Parse runs the chain: JSON object, relaxed key extraction, heading
// sections, then a minimum derived from the chapter goal. Missing beats or
// conflicts make the result a fallback.
func Parse(text string, ch model.Chapter) Result {
	var lists map[string][]string
	var roles map[string]string
	var targets map[string]int
	source := SourceFallback

	if obj := loadObject(text); obj != nil {
		lists = map[string][]string{}
		for _, f := range listFields {
			lists[f] = normalizeList(obj[f])
		}
		roles = normalizeRoleGoals(obj[FieldRoleGoals])
		targets = foreshadowTargets(obj[FieldForeshadowing])
		source = SourceStructured
	} else {
		lists = map[string][]string{}
		for _, f := range listFields {
			lists[f] = relaxedList(text, f)
		}
		roles = relaxedDict(text, FieldRoleGoals)
		sec := sections(text)
		for _, f := range listFields {
			if len(lists[f]) == 0 {
				lists[f] = dedup(sec.lists[f])
			}
		}
		if len(roles) == 0 {
			roles = sec.roles
		}
		if hasValues(lists, roles) {
			source = SourceSectionHeaded
		}
	}

	var defaulted []string
	if len(lists[FieldBeats]) == 0 {
		lists[FieldBeats] = goalBeats(ch)
		defaulted = append(defaulted, FieldBeats)
		source = SourceFallback
	}
	if len(lists[FieldConflicts]) == 0 {
		lists[FieldConflicts] = goalConflicts(ch)
		defaulted = append(defaulted, FieldConflicts)
		source = SourceFallback
	}
	if len(lists[FieldForeshadowing]) == 0 {
		lists[FieldForeshadowing] = []string{fmt.Sprintf("%s %q", defaultForeshadowing, ch.Title)}
		defaulted = append(defaulted, FieldForeshadowing)
	}
	if len(lists[FieldCallbackTargets]) == 0 {
		lists[FieldCallbackTargets] = []string{defaultCallback}
		defaulted = append(defaulted, FieldCallbackTargets)
	}

	p := model.ChapterPlan{
		Title:           ch.Title,
		Goal:            ch.Goal,
		Beats:           lists[FieldBeats],
		Conflicts:       lists[FieldConflicts],
		Foreshadowing:   lists[FieldForeshadowing],
		CallbackTargets: lists[FieldCallbackTargets],
		RoleGoals:       roles,
	}
	for _, f := range p.Foreshadowing {
		if t, ok := targets[f]; ok && t > ch.Number {
			p.Foreshadows = append(p.Foreshadows, model.Foreshadow{Keyword: f, SourceChapter: ch.Number, TargetChapter: t})
		}
	}
	return Result{Plan: p, Source: source, Quality: Assess(p, source, defaulted), Text: text}
}

func hasValues(lists map[string][]string, roles map[string]string) bool {
	for _, v := range lists {
		if len(v) > 0 {
			return true
		}
	}
	return len(roles) > 0
}

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?")
	fenceCloseRe = regexp.MustCompile("```$")
)

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(fenceOpenRe.ReplaceAllString(s, ""))
	return strings.TrimSpace(fenceCloseRe.ReplaceAllString(s, ""))
}

// loadObject decodes the payload, or its outermost {...} span, as a JSON
// object.
func loadObject(text string) map[string]any {
	payload := stripFence(text)
	if payload == "" {
		return nil
	}
	candidates := []string{payload}
	if i, j := strings.Index(payload, "{"), strings.LastIndex(payload, "}"); i >= 0 && j > i {
		candidates = append(candidates, payload[i:j+1])
	}
	for _, c := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil && obj != nil {
			return obj
		}
	}
	return nil
}

// itemKeys are tried in order when a list item is an object.
var itemKeys = []string{"description", "beat", "content", "text", "goal", "item", "target", "name", "potential_use"}

func normalizeList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s := itemText(it); s != "" {
			out = append(out, s)
		}
	}
	return dedup(out)
}

func itemText(it any) string {
	switch t := it.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, k := range itemKeys {
			if raw, ok := t[k]; ok && raw != nil {
				if s := strings.TrimSpace(fmt.Sprint(raw)); s != "" {
					return s
				}
			}
		}
		return ""
	default:
		s := strings.TrimSpace(fmt.Sprint(t))
		if l := strings.ToLower(s); l == "none" || l == "null" {
			return ""
		}
		return s
	}
}

// foreshadowTargets maps object items carrying a target_chapter to it.
func foreshadowTargets(v any) map[string]int {
	items, _ := v.([]any)
	out := map[string]int{}
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := m["target_chapter"].(float64); ok {
			out[itemText(m)] = int(n)
		}
	}
	return out
}

// ignoredRoleKeys are object keys models emit that are not character names.
var ignoredRoleKeys = map[string]bool{
	"goal": true, "goals": true, "id": true, "description": true, "type": true,
	"item": true, "target": true, "source_chapter": true, "potential_use": true,
}

func normalizeRoleGoals(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for k, g := range m {
		key := strings.TrimSpace(k)
		if key == "" || g == nil || ignoredRoleKeys[strings.ToLower(key)] {
			continue
		}
		if goal := strings.TrimSpace(fmt.Sprint(g)); goal != "" {
			out[key] = goal
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var (
	quotedRe = regexp.MustCompile(`"([^"]+)"`)
	pairRe   = regexp.MustCompile(`"([^"]+)"\s*:\s*"([^"]+)"`)
)

// relaxedList pulls the quoted strings of "key": [...] out of text that is
// not valid JSON.
func relaxedList(text, key string) []string {
	re := regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*\[(.*?)\]`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var out []string
	for _, q := range quotedRe.FindAllStringSubmatch(m[1], -1) {
		out = append(out, q[1])
	}
	return dedup(out)
}

// relaxedDict pulls the quoted pairs of "key": {...}.
func relaxedDict(text, key string) map[string]string {
	re := regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*\{(.*?)\}`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	raw := map[string]any{}
	for _, p := range pairRe.FindAllStringSubmatch(m[1], -1) {
		raw[p[1]] = p[2]
	}
	return normalizeRoleGoals(raw)
}

type sectionValues struct {
	lists map[string][]string
	roles map[string]string
}

// headingAliases maps each field to the headings that open it.
var headingAliases = []struct {
	field   string
	aliases []string
}{
	{FieldBeats, []string{"beats", "节拍"}},
	{FieldConflicts, []string{"conflicts", "冲突点", "冲突"}},
	{FieldForeshadowing, []string{"foreshadowing", "伏笔", "埋伏笔"}},
	{FieldCallbackTargets, []string{"callback_targets", "callback targets", "callbacks", "回收目标", "回收"}},
	{FieldRoleGoals, []string{"role_goals", "role goals", "角色目标", "角色"}},
}

var bareMarkers = map[string]bool{"冲突": true, "伏笔": true, "回收目标": true, "角色目标": true, "节拍": true}

var (
	headingPrefixRe = regexp.MustCompile(`^#+\s*`)
	bulletRe        = regexp.MustCompile(`^[-*•]\s*`)
	numberRe        = regexp.MustCompile(`^\d+\s*[.)、]\s*`)
)

func normalizeLine(line string) string {
	s := strings.TrimSpace(headingPrefixRe.ReplaceAllString(line, ""))
	s = strings.TrimSpace(bulletRe.ReplaceAllString(s, ""))
	s = strings.TrimSpace(numberRe.ReplaceAllString(s, ""))
	return strings.Trim(s, "：: \t")
}

// splitColon cuts at the first full-width colon, else the first ASCII one.
func splitColon(s string) (string, string, bool) {
	if a, b, ok := strings.Cut(s, "："); ok {
		return a, b, true
	}
	return strings.Cut(s, ":")
}

// sections reads "Heading" / "Heading: value" blocks.
func sections(text string) sectionValues {
	out := sectionValues{lists: map[string][]string{}, roles: map[string]string{}}
	current := ""
	for _, raw := range strings.Split(text, "\n") {
		line := normalizeLine(raw)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		switched := false
	headings:
		for _, h := range headingAliases {
			for _, a := range h.aliases {
				if lower == a {
					current, switched = h.field, true
					break headings
				}
				if strings.HasPrefix(lower, a+":") || strings.HasPrefix(lower, a+"：") {
					current, switched = h.field, true
					_, rest, _ := splitColon(line)
					line = normalizeLine(rest)
					break headings
				}
			}
		}
		if (switched && line == "") || current == "" {
			continue
		}
		if current == FieldRoleGoals {
			role, goal, ok := splitColon(line)
			if role, goal = strings.TrimSpace(role), strings.TrimSpace(goal); ok && role != "" && goal != "" {
				out.roles[role] = goal
			}
			continue
		}
		if bareMarkers[line] || isAlias(lower) {
			continue
		}
		out.lists[current] = append(out.lists[current], line)
	}
	if len(out.roles) == 0 {
		out.roles = nil
	}
	return out
}

func isAlias(lower string) bool {
	for _, h := range headingAliases {
		for _, a := range h.aliases {
			if lower == a {
				return true
			}
		}
	}
	return false
}

func dedup(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Fallback text. The foreshadowing and callback defaults are also template
// phrases, so a plan that needed them is scored down.
const (
	defaultForeshadowing = "Plant a recoverable detail around"
	defaultCallback      = "Pay off at least one open item from the previous chapter"
)

var (
	goalPrefixRe = regexp.MustCompile(`^(?:围绕[“"].*?[”"]推进|围绕.+?推进)[：:]\s*`)
	fragmentRe   = regexp.MustCompile(`[。；;！？!?\n]|\.\s`)
)

func goalCore(ch model.Chapter) string {
	return strings.TrimSpace(goalPrefixRe.ReplaceAllString(strings.TrimSpace(ch.Goal), ""))
}

func goalBeats(ch model.Chapter) []string {
	core := goalCore(ch)
	if core == "" {
		core = strings.TrimSpace(ch.Goal)
	}
	if core == "" {
		core = "Advance the main conflict"
	}
	var frags []string
	for _, f := range fragmentRe.Split(core, -1) {
		if f = strings.TrimSpace(f); f != "" {
			frags = append(frags, f)
		}
	}
	start, mid := core, core
	if len(frags) > 0 {
		start, mid = frags[0], frags[0]
		if len(frags) > 1 {
			mid = frags[1]
		}
	}
	return []string{
		start + ", but the first move meets unexpected resistance.",
		fmt.Sprintf("To keep pushing %q, the protagonist must make a costly choice.", chunker.Runes(mid, 30)),
		"The chapter closes on a new variable and the goal stays open.",
	}
}

func goalConflicts(ch model.Chapter) []string {
	core := goalCore(ch)
	if core == "" {
		core = ch.Title
	}
	if core == "" {
		core = "the current task"
	}
	core = chunker.Runes(core, 28)
	return []string{
		fmt.Sprintf("External: pushing %q meets hard resistance from the setting or an opponent.", core),
		fmt.Sprintf("Internal: the protagonist is torn between %q and their own limits.", core),
	}
}
