package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/novel-memory/internal/model"
)

// Parse errors.
var (
	ErrEmptyOutput = errors.New("empty extraction output")
	ErrMalformed   = errors.New("malformed extraction output")
)

// Prompt asks the model to extract every character appearing in text.
func Prompt(text string) string {
	return `You extract character profiles from fiction. Read the chapter below and list every character who appears or is mentioned.

Chapter:
` + text + `

Reply with JSON only, in this shape:
{
  "characters": [
    {
      "character_name": "required",
      "overview": "optional",
      "personality": "optional",
      "relationships": [{"target_character": "name", "relation_type": "mentor, enemy, lover, friend...", "description": "optional"}],
      "state_changes": [{"attribute": "power, stance...", "from_value": "optional", "to_value": "required", "trigger_event": "optional"}],
      "chapter_events": [{"event_summary": "required", "significance": "minor|major|critical", "related_characters": ["name"]}]
    }
  ]
}

Skip characters without a name. Omit fields you have no information for.`
}

// Provenance labels profiles extracted from a chapter.
func Provenance(chapter int) string {
	return fmt.Sprintf("llm_extraction:chapter_%d", chapter)
}

type rawCharacter struct {
	Name          string            `json:"character_name"`
	Overview      string            `json:"overview"`
	Personality   string            `json:"personality"`
	Relationships []json.RawMessage `json:"relationships"`
	StateChanges  []json.RawMessage `json:"state_changes"`
	ChapterEvents []json.RawMessage `json:"chapter_events"`
}

type rawRelationship struct {
	Target      string `json:"target_character"`
	Type        string `json:"relation_type"`
	Description string `json:"description"`
}

type rawStateChange struct {
	Attribute string `json:"attribute"`
	From      string `json:"from_value"`
	To        string `json:"to_value"`
}

type rawEvent struct {
	Summary string `json:"event_summary"`
}

// Parse turns extraction output into profiles for chapter. Entries without a
// name, and sub-items missing a required field or of the wrong shape, are
// skipped. The root must be an object with a "characters" list.
func Parse(raw string, chapter int, projectID, provenance string) ([]model.CharacterProfile, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, ErrEmptyOutput
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	list, ok := root["characters"]
	if !ok {
		return nil, fmt.Errorf("%w: missing characters", ErrMalformed)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, fmt.Errorf("%w: characters must be a list", ErrMalformed)
	}

	out := []model.CharacterProfile{}
	for _, entry := range entries {
		var c rawCharacter
		if json.Unmarshal(entry, &c) != nil {
			continue
		}
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		p := model.CharacterProfile{
			ID:                 ID(projectID, name),
			ProjectID:          projectID,
			Name:               name,
			Overview:           c.Overview,
			Personality:        c.Personality,
			LastUpdatedChapter: chapter,
			OverrideSource:     model.OverrideExtracted,
			Provenance:         provenance,
		}
		for _, m := range c.Relationships {
			var r rawRelationship
			if json.Unmarshal(m, &r) != nil {
				continue
			}
			target, typ := strings.TrimSpace(r.Target), strings.TrimSpace(r.Type)
			if target == "" || typ == "" {
				continue
			}
			p.Relationships = append(p.Relationships, model.Relationship{
				Source:         name,
				Target:         target,
				Type:           typ,
				Chapter:        chapter,
				Description:    r.Description,
				OverrideSource: model.OverrideExtracted,
			})
		}
		for _, m := range c.StateChanges {
			var sc rawStateChange
			if json.Unmarshal(m, &sc) != nil {
				continue
			}
			attr, to := strings.TrimSpace(sc.Attribute), strings.TrimSpace(sc.To)
			if attr == "" || to == "" {
				continue
			}
			p.StateChanges = append(p.StateChanges, model.StateChange{
				Character: name, Attribute: attr, From: sc.From, To: to, Chapter: chapter,
			})
		}
		for _, m := range c.ChapterEvents {
			var ev rawEvent
			if json.Unmarshal(m, &ev) != nil {
				continue
			}
			if s := strings.TrimSpace(ev.Summary); s != "" {
				p.ChapterEvents = append(p.ChapterEvents, model.ChapterEvent{Character: name, Chapter: chapter, Summary: s})
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// stripFence returns the body of a leading markdown code fence, or text
// unchanged when it does not start with one.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	var body []string
	for i, line := range strings.Split(text, "\n") {
		if i == 0 {
			continue
		}
		if strings.HasPrefix(line, "```") {
			break
		}
		body = append(body, line)
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
