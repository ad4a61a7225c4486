package plan

import (
	"strings"
	"unicode/utf8"

	"github.com/rcliao/novel-memory/internal/model"
)

// Quality statuses.
const (
	StatusOK   = "ok"
	StatusWarn = "warn"
	StatusBad  = "bad"
)

// Score thresholds and penalties.
const (
	OKScore   = 82
	WarnScore = 62

	penaltyFallback        = 45
	penaltyNotJSON         = 10
	penaltyDefaultBeats    = 18
	penaltyDefaultConflict = 14
	penaltyDefaultMinor    = 8
	penaltyFewBeats        = 25
	penaltyFewConflicts    = 18
	penaltyEmptyMinor      = 8
	penaltyNoRoleGoals     = 6
	penaltyShortBeats      = 10
	penaltyTemplate        = 12
	maxTemplatePenalty     = 36

	minBeats        = 3
	minConflicts    = 2
	minAvgBeatRunes = 14
)

// TemplatePhrases are stock lines a model emits instead of a real plan.
var TemplatePhrases = []string{
	"开场建立章节目标",
	"中段制造冲突并推进人物关系",
	"结尾留下悬念或下一章引子",
	"主角目标与外部阻力发生碰撞",
	"内部价值观冲突抬升",
	"回收上一章未决事项至少一项",
	"围绕“",
	"围绕\"",
	"Opening establishes the chapter goal",
	"Midpoint creates conflict",
	"Ending leaves a cliffhanger",
	defaultForeshadowing,
	defaultCallback,
}

// Quality scores a parsed plan out of 100.
type Quality struct {
	Score           int      `json:"score"`
	Status          string   `json:"status"`
	Source          Source   `json:"source"`
	Issues          []string `json:"issues"`
	Warnings        []string `json:"warnings,omitempty"`
	DefaultedFields []string `json:"defaulted_fields"`
	TemplateHits    int      `json:"template_hits"`
	Attempts        int      `json:"attempts,omitempty"`
	Retried         bool     `json:"retried,omitempty"`
}

// NeedsRetry reports whether the plan is bad, a fallback, or templated.
func (q Quality) NeedsRetry() bool {
	return q.Status == StatusBad || q.Source == SourceFallback || q.TemplateHits >= 2
}

// Assess scores p given where it came from and which fields were filled in.
func Assess(p model.ChapterPlan, source Source, defaulted []string) Quality {
	q := Quality{Source: source, DefaultedFields: defaulted, Issues: []string{}}
	if q.DefaultedFields == nil {
		q.DefaultedFields = []string{}
	}
	score := 100
	issue := func(n int, msg string) {
		score -= n
		q.Issues = append(q.Issues, msg)
	}
	warn := func(n int, msg string) {
		score -= n
		q.Warnings = append(q.Warnings, msg)
	}

	switch source {
	case SourceFallback:
		issue(penaltyFallback, "model output could not be parsed; a goal-derived plan was used")
	case SourceSectionHeaded:
		warn(penaltyNotJSON, "model output was not a JSON object; sections were parsed leniently")
	}

	isDefault := map[string]bool{}
	for _, f := range defaulted {
		isDefault[f] = true
	}
	if isDefault[FieldBeats] {
		issue(penaltyDefaultBeats, "beats were missing and were filled in")
	}
	if isDefault[FieldConflicts] {
		issue(penaltyDefaultConflict, "conflicts were missing and were filled in")
	}
	if isDefault[FieldForeshadowing] {
		warn(penaltyDefaultMinor, "foreshadowing was empty; a placeholder was added")
	}
	if isDefault[FieldCallbackTargets] {
		warn(penaltyDefaultMinor, "callback targets were empty; a placeholder was added")
	}

	if len(p.Beats) < minBeats {
		issue(penaltyFewBeats, "fewer than 3 beats")
	}
	if len(p.Conflicts) < minConflicts {
		issue(penaltyFewConflicts, "fewer than 2 conflicts")
	}
	if len(p.Foreshadowing) == 0 {
		score -= penaltyEmptyMinor
	}
	if len(p.CallbackTargets) == 0 {
		score -= penaltyEmptyMinor
	}
	if len(p.RoleGoals) == 0 {
		warn(penaltyNoRoleGoals, "no role goals")
	}
	if len(p.Beats) > 0 {
		total := 0
		for _, b := range p.Beats {
			total += utf8.RuneCountInString(b)
		}
		if total/len(p.Beats) < minAvgBeatRunes {
			warn(penaltyShortBeats, "beats are too short to carry action and cause")
		}
	}

	q.TemplateHits = TemplateHits(p)
	if q.TemplateHits > 0 {
		issue(min(maxTemplatePenalty, q.TemplateHits*penaltyTemplate), "template phrases detected; regenerate the plan")
	}

	q.Score = max(0, min(100, score))
	switch {
	case q.Score >= OKScore:
		q.Status = StatusOK
	case q.Score >= WarnScore:
		q.Status = StatusWarn
	default:
		q.Status = StatusBad
	}
	return q
}

// TemplateHits counts the template phrases present anywhere in p.
func TemplateHits(p model.ChapterPlan) int {
	var parts []string
	parts = append(parts, p.Beats...)
	parts = append(parts, p.Conflicts...)
	parts = append(parts, p.Foreshadowing...)
	parts = append(parts, p.CallbackTargets...)
	for k, v := range p.RoleGoals {
		parts = append(parts, k+":"+v)
	}
	joined := strings.Join(parts, "\n")
	n := 0
	for _, m := range TemplatePhrases {
		if strings.Contains(joined, m) {
			n++
		}
	}
	return n
}
