// Package model defines the core memory data types.
package model

import "time"

// Tier is a memory layer.
type Tier string

const (
	TierIdentity Tier = "L1" // identity, world rules, runtime state
	TierRolling  Tier = "L2" // rolling working memory, thread status, logs
	TierEpisodic Tier = "L3" // per-chapter episodic summaries
	TierProfile  Tier = "L4" // structured character profiles
)

// ValidTiers are the allowed memory tiers.
var ValidTiers = map[Tier]bool{
	TierIdentity: true,
	TierRolling:  true,
	TierEpisodic: true,
	TierProfile:  true,
}

// MemoryItem is one indexed row mirroring an on-disk memory document.
type MemoryItem struct {
	ID         string         `json:"id"`
	Tier       Tier           `json:"tier"`
	SourcePath string         `json:"source_path"`
	Summary    string         `json:"summary"`
	Content    string         `json:"content"`
	Entities   []string       `json:"entities,omitempty"`
	TimeSpan   string         `json:"time_span,omitempty"`
	Importance int            `json:"importance"`
	Recency    int            `json:"recency"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Episode is an L3 episodic document. Only one episode exists per (chapter, type).
type Episode struct {
	ID        string    `json:"id" yaml:"id"`
	Type      string    `json:"type" yaml:"type"`
	Chapter   int       `json:"chapter" yaml:"chapter"`
	Summary   string    `json:"summary" yaml:"summary"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Content   string    `json:"content" yaml:"-"`
}

// Episode types.
const (
	EpisodeSynopsis = "chapter_synopsis"
	EpisodeSummary  = "chapter_summary"
)
