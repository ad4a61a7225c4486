package model

import "time"

// Chapter statuses.
const (
	StatusDraft    = "draft"
	StatusReviewed = "reviewed"
	StatusApproved = "approved"
)

// Chapter is one unit of generated narrative.
type Chapter struct {
	ID        string       `json:"id"`
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Goal      string       `json:"goal,omitempty"`
	Plan      *ChapterPlan `json:"plan,omitempty"`
	Draft     string       `json:"draft,omitempty"`
	Final     string       `json:"final,omitempty"`
	Status    string       `json:"status"`
	WordCount int          `json:"word_count"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Text returns the final text when present, else the draft.
func (c Chapter) Text() string {
	if c.Final != "" {
		return c.Final
	}
	return c.Draft
}

// ChapterPlan is the structured blueprint for one chapter.
type ChapterPlan struct {
	Title           string            `json:"title"`
	Goal            string            `json:"goal"`
	Beats           []string          `json:"beats"`
	Conflicts       []string          `json:"conflicts"`
	Foreshadowing   []string          `json:"foreshadowing"`
	CallbackTargets []string          `json:"callback_targets"`
	RoleGoals       map[string]string `json:"role_goals,omitempty"`
	Foreshadows     []Foreshadow      `json:"foreshadows,omitempty"`
}

// Foreshadow is a planted element with an intended payoff chapter.
type Foreshadow struct {
	Keyword       string `json:"keyword"`
	SourceChapter int    `json:"source_chapter"`
	TargetChapter int    `json:"target_chapter"`
}

// Thread statuses.
const (
	ThreadOpen     = "open"
	ThreadResolved = "resolved"
)

// OpenThread is a tracked foreshadowing item awaiting payoff.
type OpenThread struct {
	SourceChapter     int    `json:"source_chapter"`
	Text              string `json:"text"`
	Status            string `json:"status"`
	ResolvedByChapter int    `json:"resolved_by_chapter,omitempty"`
	Evidence          string `json:"evidence"`
}
