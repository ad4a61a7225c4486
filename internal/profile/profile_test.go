package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/novel-memory/internal/model"
)

func newProfile(name string) model.CharacterProfile {
	return model.CharacterProfile{
		ID:             ID("p1", name),
		ProjectID:      "p1",
		Name:           name,
		OverrideSource: model.OverrideExtracted,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMergeNilExisting(t *testing.T) {
	in := newProfile("Mara")
	in.Overview = "a smuggler"
	assert.Equal(t, in, Merge(nil, in, time.Now()))
}

func TestMergeTextFields(t *testing.T) {
	tests := []struct {
		name                     string
		source                   string
		existing, incoming, want string
	}{
		{"fills empty", model.OverrideExtracted, "", "new", "new"},
		{"incoming wins", model.OverrideExtracted, "old", "new", "new"},
		{"empty incoming keeps existing", model.OverrideExtracted, "old", "", "old"},
		{"user override protected", model.OverrideUser, "mine", "new", "mine"},
		{"empty user field is not protected", model.OverrideUser, "", "new", "new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newProfile("Mara")
			ex.OverrideSource = tt.source
			ex.Overview, ex.Personality = tt.existing, tt.existing
			in := newProfile("Mara")
			in.Overview, in.Personality = tt.incoming, tt.incoming

			got := Merge(&ex, in, time.Now())
			assert.Equal(t, tt.want, got.Overview)
			assert.Equal(t, tt.want, got.Personality)
			assert.Equal(t, tt.source, got.OverrideSource)
		})
	}
}

func TestMergeCollections(t *testing.T) {
	ex := newProfile("Mara")
	ex.LastUpdatedChapter = 5
	ex.Provenance = "manual"
	ex.Relationships = []model.Relationship{
		{Source: "Mara", Target: "Jon", Type: "mentor", Chapter: 1, Description: "user edit", OverrideSource: model.OverrideUser},
	}
	ex.StateChanges = []model.StateChange{{Character: "Mara", Attribute: "rank", To: "captain", Chapter: 2}}

	in := newProfile("Mara")
	in.ID = "ignored"
	in.LastUpdatedChapter = 3
	in.Confidence = 0.7
	in.Relationships = []model.Relationship{
		{Source: "Mara", Target: "Jon", Type: "mentor", Chapter: 1, Description: "extracted"},
		{Source: "Mara", Target: "Vex", Type: "enemy", Chapter: 3},
	}
	in.StateChanges = []model.StateChange{
		{Character: "Mara", Attribute: "rank", From: "ignored", To: "captain", Chapter: 2},
		{Character: "Mara", Attribute: "rank", To: "admiral", Chapter: 3},
	}
	in.ChapterEvents = []model.ChapterEvent{
		{Character: "Mara", Chapter: 3, Summary: "escapes"},
		{Character: "Mara", Chapter: 3, Summary: "escapes"},
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := Merge(&ex, in, now)

	require.Len(t, got.Relationships, 2)
	assert.Equal(t, "user edit", got.Relationships[0].Description)
	assert.Equal(t, "Vex", got.Relationships[1].Target)
	require.Len(t, got.StateChanges, 2)
	assert.Empty(t, got.StateChanges[0].From)
	assert.Equal(t, "admiral", got.StateChanges[1].To)
	assert.Len(t, got.ChapterEvents, 1)

	assert.Equal(t, 5, got.LastUpdatedChapter)
	assert.Equal(t, 0.7, got.Confidence)
	assert.Equal(t, "manual", got.Provenance)
	assert.Equal(t, ex.ID, got.ID)
	assert.Equal(t, ex.CreatedAt, got.CreatedAt)
	assert.Equal(t, now, got.UpdatedAt)

	in.Provenance = Provenance(3)
	assert.Equal(t, "llm_extraction:chapter_3", Merge(&ex, in, now).Provenance)
}

func TestMergeSelfIsNoop(t *testing.T) {
	p := newProfile("林远")
	p.Overview = "swordsman"
	p.Confidence = 0.9
	p.LastUpdatedChapter = 4
	p.Relationships = []model.Relationship{{Source: "林远", Target: "苏晴", Type: "师徒", Chapter: 1}}
	p.StateChanges = []model.StateChange{{Character: "林远", Attribute: "实力", To: "筑基期", Chapter: 2}}
	p.ChapterEvents = []model.ChapterEvent{{Character: "林远", Chapter: 4, Summary: "出场"}}

	got := Merge(&p, p, time.Now())
	got.UpdatedAt = p.UpdatedAt
	assert.Equal(t, p, got)
}

func TestContentKeys(t *testing.T) {
	a := model.Relationship{Source: "A", Target: "B", Type: "friend", Chapter: 1, Description: "x"}
	b := a
	b.Description = "y"
	assert.Equal(t, RelationshipKey(a), RelationshipKey(b))
	b.Chapter = 2
	assert.NotEqual(t, RelationshipKey(a), RelationshipKey(b))
	assert.Len(t, EventKey(model.ChapterEvent{Summary: "s"}), 32)
}

const validOutput = "```json\n" + `{
  "characters": [
    {
      "character_name": " 张三 ",
      "overview": "主角，修炼者",
      "relationships": [
        {"target_character": "李四", "relation_type": "师徒"},
        {"target_character": "", "relation_type": "敌对"},
        "not an object"
      ],
      "state_changes": [
        {"attribute": "实力", "from_value": "炼气期", "to_value": "筑基期"},
        {"attribute": "心境"}
      ],
      "chapter_events": [{"event_summary": "突破境界", "significance": "major"}, {"event_summary": " "}]
    },
    {"overview": "无名角色"},
    42
  ]
}` + "\n```"

func TestParse(t *testing.T) {
	ps, err := Parse(validOutput, 5, "p1", Provenance(5))
	require.NoError(t, err)
	require.Len(t, ps, 1)

	p := ps[0]
	assert.Equal(t, "张三", p.Name)
	assert.Equal(t, ID("p1", "张三"), p.ID)
	assert.Equal(t, "主角，修炼者", p.Overview)
	assert.Equal(t, 5, p.LastUpdatedChapter)
	assert.Equal(t, "llm_extraction:chapter_5", p.Provenance)
	require.Len(t, p.Relationships, 1)
	assert.Equal(t, model.Relationship{Source: "张三", Target: "李四", Type: "师徒", Chapter: 5, OverrideSource: model.OverrideExtracted}, p.Relationships[0])
	require.Len(t, p.StateChanges, 1)
	assert.Equal(t, 5, p.StateChanges[0].Chapter)
	require.Len(t, p.ChapterEvents, 1)
	assert.Equal(t, "突破境界", p.ChapterEvents[0].Summary)

	again, err := Parse(validOutput, 6, "p1", "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again[0].ID)
}

func TestParseMinimal(t *testing.T) {
	ps, err := Parse(`{"characters": [{"character_name": "王五"}]}`, 1, "p1", "")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Empty(t, ps[0].Overview)

	ps, err = Parse(`{"characters": []}`, 1, "p1", "")
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmptyOutput},
		{"blank fence", "```\n```", ErrEmptyOutput},
		{"not json", `{"characters": [`, ErrMalformed},
		{"array root", `[{"character_name": "x"}]`, ErrMalformed},
		{"missing key", `{"people": []}`, ErrMalformed},
		{"wrong type", `{"characters": "x"}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := Parse(tt.raw, 1, "p1", "")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Empty(t, ps)
		})
	}
}

func TestIDIsStable(t *testing.T) {
	assert.Equal(t, ID("p1", "Mara"), ID("p1", "Mara"))
	assert.NotEqual(t, ID("p1", "Mara"), ID("p2", "Mara"))
}
