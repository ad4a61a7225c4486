package consistency

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/rcliao/novel-memory/internal/model"
)

// Rule ids.
const (
	RuleTimeline   = "R1"
	RuleCharacter  = "R2"
	RuleRelation   = "R3"
	RuleWorld      = "R4"
	RuleForeshadow = "R5"
)

const identityEvidence = "IDENTITY.md"

// DeathProximity is how many runes from a name a death word may sit.
const DeathProximity = 40

// MinCandidateRunes is the shortest forbidden phrase matched.
const MinCandidateRunes = 2

// Rule checks a draft against one kind of story state.
type Rule interface {
	ID() string
	Check(draft string, c Context) []model.Conflict
}

func newConflict(rule string, sev model.Severity, c Context, key string, evidence []string, reason, fix string) model.Conflict {
	return model.Conflict{
		ID:            conflictID(rule, c.Chapter, key),
		Severity:      sev,
		RuleID:        rule,
		EvidencePaths: evidence,
		Reason:        reason,
		SuggestedFix:  fix,
		Chapter:       c.Chapter,
	}
}

// Timeline flags year mentions that predate an earlier chapter's event.
type Timeline struct{}

var yearRe = regexp.MustCompile(`(\d{4})(?:年|[/\-]\d{1,2}(?:[/\-]\d{1,2})?)|\b(?i:in|year|of) (\d{4})\b`)

func (Timeline) ID() string { return RuleTimeline }

func (Timeline) Check(draft string, c Context) []model.Conflict {
	var years []int
	seen := map[int]bool{}
	for _, m := range yearRe.FindAllStringSubmatch(draft, -1) {
		y := m[1]
		if y == "" {
			y = m[2]
		}
		n, err := strconv.Atoi(y)
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		years = append(years, n)
	}
	if len(years) == 0 {
		return nil
	}

	var out []model.Conflict
	for _, ev := range c.Events {
		if ev.Chapter >= c.Chapter || ev.Timestamp == nil {
			continue
		}
		evYear := ev.Timestamp.Year()
		for _, y := range years {
			if y >= evYear-1 {
				continue
			}
			out = append(out, newConflict(RuleTimeline, model.SeverityP1, c,
				fmt.Sprintf("%s/%d", ev.ID, y),
				[]string{fmt.Sprintf("chapter_%d", ev.Chapter)},
				fmt.Sprintf("timeline conflict: event from chapter %d is dated %d but the draft mentions %d", ev.Chapter, evYear, y),
				"reorder the timeline or update the event record"))
		}
	}
	return out
}

// CharacterState flags dead characters acting again and contradictory abilities.
type CharacterState struct{}

func (CharacterState) ID() string { return RuleCharacter }

func (CharacterState) Check(draft string, c Context) []model.Conflict {
	var out []model.Conflict
	lower := strings.ToLower(draft)
	var deaths []hit
	deathsScanned := false

	for _, e := range c.Entities {
		if e.Type != model.EntityCharacter || e.Name == "" {
			continue
		}
		evidence := []string{"entity_" + e.ID}

		if e.IsDead() && e.LastSeenChapter < c.Chapter {
			if !deathsScanned {
				deaths = deathVocab.scan(draft)
				deathsScanned = true
			}
			if len(deaths) > 0 && nearName(draft, e.Name, deaths) {
				out = append(out, newConflict(RuleCharacter, model.SeverityP0, c, "dead/"+e.ID, evidence,
					fmt.Sprintf("character %s is recorded dead but appears in this chapter", e.Name),
					"remove the appearance, turn it into a flashback, or correct the character state"))
			}
		}

		name := strings.ToLower(e.Name)
		for _, ability := range e.Abilities() {
			a := strings.ToLower(ability)
			if containsAny(lower, abilityPhrases(name, a, false)) && containsAny(lower, abilityPhrases(name, a, true)) {
				out = append(out, newConflict(RuleCharacter, model.SeverityP1, c, "ability/"+e.ID+"/"+a, evidence,
					fmt.Sprintf("character %s both has and lacks the ability %q", e.Name, ability),
					"make the ability description consistent"))
			}
		}
	}
	return out
}

// Deceased returns the names in names mentioned within DeathProximity runes
// of death vocabulary in text, in input order.
func Deceased(text string, names []string) []string {
	deaths := deathVocab.scan(text)
	if len(deaths) == 0 {
		return nil
	}
	var out []string
	for _, n := range names {
		if strings.TrimSpace(n) != "" && nearName(text, n, deaths) {
			out = append(out, n)
		}
	}
	return out
}

// nearName reports whether any death hit lies within DeathProximity runes of name.
func nearName(draft, name string, deaths []hit) bool {
	names := newVocab([]string{name}, true, true).scan(draft)
	for _, n := range names {
		for _, d := range deaths {
			gap := d.start - n.end
			if d.end <= n.start {
				gap = n.start - d.end
			}
			if gap <= DeathProximity {
				return true
			}
		}
	}
	return false
}

func abilityPhrases(name, ability string, positive bool) []string {
	if positive {
		return []string{name + "会" + ability, name + "有" + ability, name + " can " + ability, name + " has " + ability}
	}
	return []string{name + "不会" + ability, name + "没有" + ability, name + " cannot " + ability,
		name + " can't " + ability, name + " does not have " + ability, name + " has no " + ability}
}

func containsAny(text string, subs []string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// Relation flags friendly pairs that turn hostile without explanation.
type Relation struct{}

var friendlyRelations = map[string]bool{
	model.RelationFriend: true,
	model.RelationAlly:   true,
	model.RelationLove:   true,
}

func (Relation) ID() string { return RuleRelation }

func (Relation) Check(draft string, c Context) []model.Conflict {
	hostile := hostileVocab.found(draft)
	if len(hostile) == 0 {
		return nil
	}
	lower := strings.ToLower(draft)
	var out []model.Conflict
	for _, ev := range c.Events {
		if ev.Chapter >= c.Chapter || !friendlyRelations[ev.Relation] || ev.Object == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(ev.Subject)) || !strings.Contains(lower, strings.ToLower(ev.Object)) {
			continue
		}
		out = append(out, newConflict(RuleRelation, model.SeverityP1, c, ev.ID,
			[]string{"event_" + ev.ID},
			fmt.Sprintf("relation conflict: %s and %s were %s in chapter %d (hostile words: %s)",
				ev.Subject, ev.Object, ev.Relation, ev.Chapter, strings.Join(hostile, ", ")),
			"confirm the relationship change on the page"))
	}
	return out
}

// WorldRule flags drafts that do what the identity's world rules forbid, and
// any taboo string.
type WorldRule struct{}

// NegationMarkers introduce a forbidden clause in a world rule line.
var NegationMarkers = []string{"不能", "禁止", "cannot", "can't", "must not", "may not", "forbidden"}

var (
	normalizeRe  = regexp.MustCompile("[\\s\\[\\]【】()（）:：,，.。、；;!！?？…\"'`]+")
	leadingAux   = map[string]bool{"be": true, "been": true, "ever": true, "to": true}
	trailingAux  = map[string]bool{"is": true, "are": true, "was": true, "were": true, "be": true, "strictly": true, "absolutely": true}
	ruleBulletRe = regexp.MustCompile(`^[-*\s]+`)
)

func (WorldRule) ID() string { return RuleWorld }

func (WorldRule) Check(draft string, c Context) []model.Conflict {
	var out []model.Conflict
	normDraft := normalize(draft)
	for _, rule := range ForbiddenStatements(c.Identity) {
		for _, cand := range ForbiddenCandidates(rule) {
			if len([]rune(cand)) < MinCandidateRunes || !strings.Contains(normDraft, cand) {
				continue
			}
			out = append(out, newConflict(RuleWorld, model.SeverityP0, c, "rule/"+rule, []string{identityEvidence},
				"world rule violated: "+rule,
				"rewrite the passage so it respects the world rule"))
			break
		}
	}

	taboos := newVocab(c.Taboos, false, false)
	for _, t := range taboos.found(draft) {
		out = append(out, newConflict(RuleWorld, model.SeverityP0, c, "taboo/"+t, []string{identityEvidence},
			"taboo triggered: "+t,
			"remove the taboo content"))
	}
	return out
}

// ForbiddenStatements returns identity lines that carry a negation marker.
func ForbiddenStatements(identity string) []string {
	var out []string
	for _, line := range strings.Split(identity, "\n") {
		line = strings.TrimSpace(ruleBulletRe.ReplaceAllString(line, ""))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, ok := splitMarker(strings.ToLower(line)); ok {
			out = append(out, line)
		}
	}
	return out
}

// ForbiddenCandidates derives the normalized phrases a rule forbids: the
// clause after the marker, that clause prefixed with the tail of the clause
// before it, and for trailing markers ("X is forbidden") the clause before.
func ForbiddenCandidates(rule string) []string {
	left, right, ok := splitMarker(strings.ToLower(rule))
	if !ok {
		return nil
	}
	rightWords := strings.Fields(right)
	for len(rightWords) > 0 && leadingAux[strings.Trim(rightWords[0], ",.;:")] {
		rightWords = rightWords[1:]
	}
	r := normalize(strings.Join(rightWords, " "))
	l := normalize(left)

	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, o := range out {
			if o == s {
				return
			}
		}
		out = append(out, s)
	}

	if r != "" {
		add(r)
		if tail := clauseTail(left); tail != "" {
			add(tail + r)
		}
	} else {
		leftWords := strings.Fields(left)
		for len(leftWords) > 0 && trailingAux[strings.Trim(leftWords[len(leftWords)-1], ",.;:")] {
			leftWords = leftWords[:len(leftWords)-1]
		}
		add(normalize(strings.Join(leftWords, " ")))
	}
	if len(out) == 0 {
		add(l)
	}
	return out
}

// splitMarker cuts s at its earliest negation marker.
func splitMarker(s string) (left, right string, ok bool) {
	best, bestLen := -1, 0
	for _, m := range NegationMarkers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(m)
		}
	}
	if best < 0 {
		return "", "", false
	}
	return s[:best], s[best+bestLen:], true
}

// clauseTail is the last word of a latin clause or the last two runes of a
// Han clause.
func clauseTail(left string) string {
	words := strings.Fields(left)
	if len(words) == 0 {
		return ""
	}
	last := normalize(words[len(words)-1])
	if r := []rune(last); len(r) > 0 && r[0] > 0x7f && len(r) > 2 {
		return string(r[len(r)-2:])
	}
	return last
}

// normalize folds full-width forms, then drops whitespace and punctuation.
func normalize(s string) string {
	return strings.ToLower(normalizeRe.ReplaceAllString(width.Fold.String(s), ""))
}

// Foreshadow flags planted items due this chapter with no callback.
type Foreshadow struct{}

func (Foreshadow) ID() string { return RuleForeshadow }

func (Foreshadow) Check(_ string, c Context) []model.Conflict {
	var out []model.Conflict
	for _, fs := range c.Foreshadows {
		if fs.TargetChapter != c.Chapter || fs.Keyword == "" {
			continue
		}
		paid := false
		for _, cb := range c.Callbacks {
			if strings.Contains(cb, fs.Keyword) {
				paid = true
				break
			}
		}
		if paid {
			continue
		}
		out = append(out, newConflict(RuleForeshadow, model.SeverityP2, c,
			fmt.Sprintf("%d/%s", fs.SourceChapter, fs.Keyword),
			[]string{fmt.Sprintf("chapter_%d", fs.SourceChapter)},
			"foreshadowing due for payoff: "+fs.Keyword,
			"pay off the foreshadowing in this chapter"))
	}
	return out
}

// sortConflicts orders by severity, then rule, then id.
func sortConflicts(cs []model.Conflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Severity != cs[j].Severity {
			return cs[i].Severity < cs[j].Severity
		}
		if cs[i].RuleID != cs[j].RuleID {
			return cs[i].RuleID < cs[j].RuleID
		}
		return cs[i].ID < cs[j].ID
	})
}
