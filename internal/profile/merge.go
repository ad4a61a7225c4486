// Package profile merges extracted L4 character profiles into stored ones and
// parses the extraction output of the generation model.
package profile

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/novel-memory/internal/model"
)

var profileNS = uuid.NewSHA1(uuid.NameSpaceURL, []byte("novel-memory/profile"))

// ID is the stable profile id of a character in a project.
func ID(projectID, name string) string {
	return uuid.NewSHA1(profileNS, []byte(projectID+"\x00"+name)).String()
}

// Merge folds incoming into existing. A nil existing returns incoming as is.
//
// Overview and personality keep a non-empty existing value when the profile
// is user-overridden; otherwise a non-empty incoming value wins. Relationships,
// state changes and chapter events are deduplicated by content key: existing
// items are never replaced, new keys are appended in incoming order.
func Merge(existing *model.CharacterProfile, incoming model.CharacterProfile, now time.Time) model.CharacterProfile {
	if existing == nil {
		return incoming
	}
	user := existing.OverrideSource == model.OverrideUser

	out := *existing
	out.Overview = mergeText(existing.Overview, incoming.Overview, user)
	out.Personality = mergeText(existing.Personality, incoming.Personality, user)
	out.Relationships = mergeList(existing.Relationships, incoming.Relationships, RelationshipKey)
	out.StateChanges = mergeList(existing.StateChanges, incoming.StateChanges, StateChangeKey)
	out.ChapterEvents = mergeList(existing.ChapterEvents, incoming.ChapterEvents, EventKey)
	out.LastUpdatedChapter = max(existing.LastUpdatedChapter, incoming.LastUpdatedChapter)
	out.Confidence = incoming.Confidence
	if incoming.Provenance != "" {
		out.Provenance = incoming.Provenance
	}
	out.UpdatedAt = now.UTC()
	return out
}

func mergeText(existing, incoming string, protected bool) string {
	if protected && existing != "" {
		return existing
	}
	if incoming != "" {
		return incoming
	}
	return existing
}

func mergeList[T any](existing, incoming []T, key func(T) string) []T {
	out := append([]T(nil), existing...)
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, it := range existing {
		seen[key(it)] = true
	}
	for _, it := range incoming {
		k := key(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// RelationshipKey identifies a relationship by source, target, type and chapter.
func RelationshipKey(r model.Relationship) string {
	return contentKey(r.Source, r.Target, r.Type, r.Chapter)
}

// StateChangeKey identifies a state change by character, attribute, new value
// and chapter.
func StateChangeKey(c model.StateChange) string {
	return contentKey(c.Character, c.Attribute, c.To, c.Chapter)
}

// EventKey identifies a chapter event by character, chapter and summary.
func EventKey(e model.ChapterEvent) string {
	return contentKey(e.Character, e.Chapter, e.Summary)
}

func contentKey(parts ...any) string {
	data, _ := json.Marshal(parts)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
