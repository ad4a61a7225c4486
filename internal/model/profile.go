package model

import "time"

// Override sources.
const (
	OverrideExtracted = "extracted"
	OverrideUser      = "user"
)

// CharacterProfile is the L4 structured record of one character.
type CharacterProfile struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	Name               string         `json:"name"`
	Overview           string         `json:"overview"`
	Personality        string         `json:"personality"`
	Relationships      []Relationship `json:"relationships"`
	StateChanges       []StateChange  `json:"state_changes"`
	ChapterEvents      []ChapterEvent `json:"chapter_events"`
	LastUpdatedChapter int            `json:"last_updated_chapter"`
	Confidence         float64        `json:"confidence"`
	OverrideSource     string         `json:"override_source"`
	Provenance         string         `json:"provenance,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Relationship links a profile to another character.
type Relationship struct {
	Source         string `json:"source"`
	Target         string `json:"target"`
	Type           string `json:"type"`
	Chapter        int    `json:"chapter"`
	Description    string `json:"description,omitempty"`
	OverrideSource string `json:"override_source,omitempty"`
}

// StateChange records one attribute transition.
type StateChange struct {
	Character string `json:"character"`
	Attribute string `json:"attribute"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Chapter   int    `json:"chapter"`
}

// ChapterEvent is something a character did in a chapter.
type ChapterEvent struct {
	Character string `json:"character"`
	Chapter   int    `json:"chapter"`
	Summary   string `json:"summary"`
}
