package model

import "time"

// Entity types.
const (
	EntityCharacter = "character"
	EntityPlace     = "place"
	EntityItem      = "item"
)

// Well-known entity attribute keys.
const (
	AttrIsDead    = "is_dead"
	AttrAbilities = "abilities"
)

// EntityState is the accumulated state of a named story entity.
type EntityState struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Name             string         `json:"name"`
	Attrs            map[string]any `json:"attrs,omitempty"`
	Constraints      []string       `json:"constraints,omitempty"`
	FirstSeenChapter int            `json:"first_seen_chapter"`
	LastSeenChapter  int            `json:"last_seen_chapter"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsDead reports whether the entity is recorded dead.
func (e EntityState) IsDead() bool {
	v, _ := e.Attrs[AttrIsDead].(bool)
	return v
}

// Abilities returns the recorded abilities, tolerating JSON-decoded []any.
func (e EntityState) Abilities() []string {
	switch v := e.Attrs[AttrAbilities].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Relations recorded between two entities.
const (
	RelationFriend  = "friend"
	RelationAlly    = "ally"
	RelationLove    = "love"
	RelationEnemy   = "enemy"
	RelationRelated = "related"
)

// EventEdge is a relation between entities observed in one chapter.
type EventEdge struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Relation    string     `json:"relation"`
	Object      string     `json:"object,omitempty"`
	Chapter     int        `json:"chapter"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Confidence  float64    `json:"confidence"`
	Description string     `json:"description,omitempty"`
}
