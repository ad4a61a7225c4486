package consistency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/novel-memory/internal/model"
)

func deadCharacter(name string, lastSeen int) model.EntityState {
	return model.EntityState{
		ID:              "e-" + name,
		Type:            model.EntityCharacter,
		Name:            name,
		Attrs:           map[string]any{model.AttrIsDead: true},
		LastSeenChapter: lastSeen,
	}
}

func rulesOf(cs []model.Conflict, rule string) []model.Conflict {
	var out []model.Conflict
	for _, c := range cs {
		if c.RuleID == rule {
			out = append(out, c)
		}
	}
	return out
}

func TestTabooBlocks(t *testing.T) {
	rep := NewEngine().Check("He sold the forbidden relic at the market.", Context{
		Chapter: 4,
		Taboos:  []string{"forbidden relic", "", "forbidden relic"},
	})
	assert.False(t, rep.CanSubmit)
	assert.Equal(t, 1, rep.P0Count)
	assert.Equal(t, RuleWorld, rep.P0[0].RuleID)
}

func TestWorldRuleResurrection(t *testing.T) {
	identity := "# Identity\n\n## World Rules\n\n- The protagonist cannot be resurrected.\n"
	rep := NewEngine().Check("The protagonist is resurrected and returns to battle.", Context{Chapter: 5, Identity: identity})
	require.Equal(t, 1, rep.P0Count)
	assert.Equal(t, RuleWorld, rep.P0[0].RuleID)
	assert.Contains(t, rep.P0[0].Reason, "cannot be resurrected")
	assert.False(t, rep.CanSubmit)

	clean := NewEngine().Check("The protagonist mourns at the grave.", Context{Chapter: 5, Identity: identity})
	assert.True(t, clean.CanSubmit)
}

func TestWorldRuleHan(t *testing.T) {
	identity := "## 世界规则\n- 主角不能复活\n- 城内禁止使用魔法\n"
	rep := NewEngine().Check("第二天，主角复活了。", Context{Chapter: 2, Identity: identity})
	require.Equal(t, 1, rep.P0Count)
	assert.Contains(t, rep.P0[0].Reason, "主角不能复活")

	rep = NewEngine().Check("他在城内使用魔法，点亮了灯。", Context{Chapter: 2, Identity: identity})
	assert.Equal(t, 1, rep.P0Count)

	rep = NewEngine().Check("城里有人使用 ai 作弊。", Context{Chapter: 2, Identity: "- 考场禁止使用ＡＩ"})
	assert.Equal(t, 1, rep.P0Count, "full-width rule text is folded")
}

func TestForbiddenCandidates(t *testing.T) {
	tests := []struct {
		rule string
		want []string
	}{
		{"The protagonist cannot be resurrected.", []string{"resurrected", "protagonistresurrected"}},
		{"主角不能复活", []string{"复活", "主角复活"}},
		{"Resurrection is forbidden.", []string{"resurrection"}},
		{"Mortals must not enter the Sky Temple", []string{"entertheskytemple", "mortalsentertheskytemple"}},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			assert.Equal(t, tt.want, ForbiddenCandidates(tt.rule))
		})
	}
	assert.Nil(t, ForbiddenCandidates("Magic has a price."))
}

func TestForbiddenStatements(t *testing.T) {
	identity := "# World Rules\n- Magic has a price.\n* Nobody can't lie under the moon\n\n主角不能复活\n## Cannot heading\n"
	assert.Equal(t, []string{"Nobody can't lie under the moon", "主角不能复活"}, ForbiddenStatements(identity))
}

func TestDeadCharacterReturns(t *testing.T) {
	c := Context{Chapter: 6, Entities: []model.EntityState{deadCharacter("Jon", 3)}}

	rep := NewEngine().Check("Jon walked in, though he had died.", c)
	require.Equal(t, 1, rep.P0Count)
	assert.Equal(t, RuleCharacter, rep.P0[0].RuleID)
	assert.Equal(t, []string{"entity_e-Jon"}, rep.P0[0].EvidencePaths)

	// Name without death vocabulary nearby.
	far := "Jon was remembered. " +
		"The rain fell for a long while over the quiet harbour and the boats, and much later the fisherman died."
	assert.Zero(t, NewEngine().Check(far, c).P0Count)

	// Not yet dead as of an earlier chapter.
	c.Entities[0].LastSeenChapter = 6
	assert.Zero(t, NewEngine().Check("Jon died.", c).P0Count)

	// Substring of a longer name is not a mention.
	c.Entities[0].LastSeenChapter = 3
	assert.Zero(t, NewEngine().Check("Jonas died.", c).P0Count)
}

func TestDeadCharacterHan(t *testing.T) {
	c := Context{Chapter: 9, Entities: []model.EntityState{deadCharacter("林远", 2)}}
	rep := NewEngine().Check("林远推门而入，众人以为他早已死亡。", c)
	assert.Equal(t, 1, rep.P0Count)
}

func TestDeceased(t *testing.T) {
	text := "Mara watched as Jon died in the snow. Many miles away, after a long and quiet walk home, Ellis sat by the fire."
	assert.Equal(t, []string{"Jon"}, Deceased(text, []string{"Ellis", "Jon", ""}))
	assert.Nil(t, Deceased("Jon laughed.", []string{"Jon"}))
}

func TestAbilityContradiction(t *testing.T) {
	e := model.EntityState{ID: "m", Type: model.EntityCharacter, Name: "Mara",
		Attrs: map[string]any{model.AttrAbilities: []any{"fly"}}}
	c := Context{Chapter: 2, Entities: []model.EntityState{e}}

	rep := NewEngine().Check("Mara cannot fly. Later, Mara can fly over the wall.", c)
	require.Equal(t, 1, rep.P1Count)
	assert.True(t, rep.CanSubmit)
	assert.Zero(t, NewEngine().Check("Mara cannot fly.", c).P1Count)
}

func TestRelationTurnsHostile(t *testing.T) {
	c := Context{Chapter: 5, Events: []model.EventEdge{
		{ID: "ev1", Subject: "Mara", Relation: model.RelationFriend, Object: "Jon", Chapter: 2},
		{ID: "ev2", Subject: "Mara", Relation: model.RelationEnemy, Object: "Vex", Chapter: 2},
		{ID: "ev3", Subject: "Mara", Relation: model.RelationAlly, Object: "Ada", Chapter: 5},
	}}
	rep := NewEngine().Check("Mara betrayed Jon at the gate. Vex and Ada watched.", c)
	require.Equal(t, 1, rep.P1Count)
	assert.Equal(t, []string{"event_ev1"}, rep.P1[0].EvidencePaths)

	assert.Zero(t, NewEngine().Check("Mara showed Jon her new skills.", c).P1Count)
}

func TestRelationHostileInflections(t *testing.T) {
	c := Context{Chapter: 5, Events: []model.EventEdge{
		{ID: "ev1", Subject: "Mara", Relation: model.RelationFriend, Object: "Jon", Chapter: 2},
	}}
	for _, draft := range []string{
		"Mara attacks Jon on the bridge.",
		"Mara destroyed the letter Jon wrote.",
		"Mara was ambushing Jon near the mill.",
		"Jon kills time while Mara sleeps.",
	} {
		assert.Equal(t, 1, NewEngine().Check(draft, c).P1Count, draft)
	}
	for _, draft := range []string{
		"Mara praised Jon's skills.",
		"Mara and Jon watched the attackers leave.",
	} {
		assert.Zero(t, NewEngine().Check(draft, c).P1Count, draft)
	}
	assert.Equal(t, []string{"attack", "betray"}, hostileVocab.found("They attacked, then betrays."))
}

func TestTimeline(t *testing.T) {
	ts := time.Date(1890, 5, 1, 0, 0, 0, 0, time.UTC)
	c := Context{Chapter: 4, Events: []model.EventEdge{
		{ID: "ev", Chapter: 2, Timestamp: &ts},
		{ID: "undated", Chapter: 2},
		{ID: "later", Chapter: 4, Timestamp: &ts},
	}}
	rep := NewEngine().Check("In 1885-03 the ship sailed. In 1889年 it returned. Back in 1885 again.", c)
	require.Equal(t, 1, rep.P1Count, "duplicate years and the one-year grace are ignored")
	assert.Contains(t, rep.P1[0].Reason, "1885")
}

func TestForeshadowDue(t *testing.T) {
	c := Context{
		Chapter: 7,
		Foreshadows: []model.Foreshadow{
			{Keyword: "bronze key", SourceChapter: 1, TargetChapter: 7},
			{Keyword: "sealed letter", SourceChapter: 2, TargetChapter: 7},
			{Keyword: "old debt", SourceChapter: 3, TargetChapter: 9},
		},
		Callbacks: []string{"Mara uses the bronze key"},
	}
	rep := NewEngine().Check("", c)
	require.Equal(t, 1, rep.P2Count)
	assert.Equal(t, []string{"chapter_2"}, rep.P2[0].EvidencePaths)
	assert.True(t, rep.CanSubmit)
}

func TestCheckIsPure(t *testing.T) {
	ts := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Context{
		Chapter:  5,
		Identity: "- The dead cannot walk.",
		Taboos:   []string{"curse word"},
		Entities: []model.EntityState{deadCharacter("Jon", 1)},
		Events:   []model.EventEdge{{ID: "e", Subject: "Jon", Relation: model.RelationLove, Object: "Ada", Chapter: 1, Timestamp: &ts}},
	}
	draft := "In 1850 Jon, long dead, can walk again; he attacked Ada with a curse word."
	a := NewEngine().Check(draft, c)
	b := NewEngine().Check(draft, c)
	assert.Equal(t, a, b)
	assert.Equal(t, a.P0Count == 0, a.CanSubmit)
	assert.Equal(t, a.TotalConflicts, a.P0Count+a.P1Count+a.P2Count)
	assert.GreaterOrEqual(t, a.P0Count, 2)
	assert.Len(t, rulesOf(a.Conflicts, RuleRelation), 1)
	assert.Len(t, rulesOf(a.Conflicts, RuleTimeline), 1)
}

func TestEmptyReport(t *testing.T) {
	rep := NewEngine().Check("", Context{})
	assert.True(t, rep.CanSubmit)
	assert.NotNil(t, rep.Conflicts)
	assert.Zero(t, rep.TotalConflicts)
}

func TestResolveAndExempt(t *testing.T) {
	p1 := model.Conflict{ID: "a", Severity: model.SeverityP1}
	got, err := Exempt(p1, "intentional twist")
	require.NoError(t, err)
	assert.True(t, got.Exempted)
	assert.Equal(t, "Exempted: intentional twist", got.Resolution)
	assert.NotNil(t, got.ResolvedAt)
	assert.False(t, got.Open())

	p0 := model.Conflict{ID: "b", Severity: model.SeverityP0}
	same, err := Exempt(p0, "please")
	assert.True(t, errors.Is(err, ErrNotExemptable))
	assert.Equal(t, p0, same)
	assert.Len(t, Blocking([]model.Conflict{p0, p1, got}), 1)

	fixed := Resolve(p0, "rewrote the scene")
	assert.True(t, fixed.Resolved)
	assert.Empty(t, Blocking([]model.Conflict{fixed}))
}
