package studio

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/novel-memory/internal/llm"
	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/profile"
	"github.com/rcliao/novel-memory/internal/store"
)

// ExtractProfiles asks the model for the character profiles of chapter n and
// merges each into the stored profile of the same character. Offline output
// extracts nothing.
func (s *Studio) ExtractProfiles(ctx context.Context, n int) ([]model.CharacterProfile, error) {
	ch, err := s.store.Chapter(ctx, n)
	if err != nil {
		return nil, err
	}
	raw := s.llm.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: profile.Prompt(ch.Text())},
	}, llm.ChatOptions{Temperature: llm.Temperature(0)})
	if llm.IsOffline(raw) {
		s.logger.Warn("profile extraction skipped", "chapter", n, "reason", "offline")
		return []model.CharacterProfile{}, nil
	}

	incoming, err := profile.Parse(raw, n, s.opts.ProjectID, profile.Provenance(n))
	if err != nil {
		return nil, fmt.Errorf("parse chapter %d profiles: %w", n, err)
	}
	out := make([]model.CharacterProfile, 0, len(incoming))
	for _, p := range incoming {
		merged, err := s.MergeProfile(ctx, p)
		if err != nil {
			return out, err
		}
		out = append(out, merged)
	}
	s.logger.Info("profiles extracted", "chapter", n, "profiles", len(out))
	return out, nil
}

// MergeProfile merges incoming into the stored profile with the same id and
// stores the result. An incoming profile without an id gets the id derived
// from its name.
func (s *Studio) MergeProfile(ctx context.Context, incoming model.CharacterProfile) (model.CharacterProfile, error) {
	if incoming.Name == "" {
		return incoming, fmt.Errorf("merge profile: empty name")
	}
	if incoming.ProjectID == "" {
		incoming.ProjectID = s.opts.ProjectID
	}
	if incoming.ID == "" {
		incoming.ID = profile.ID(incoming.ProjectID, incoming.Name)
	}

	var existing *model.CharacterProfile
	cur, err := s.store.Profile(ctx, incoming.ID)
	switch {
	case err == nil:
		existing = &cur
	case !errors.Is(err, store.ErrNotFound):
		return incoming, err
	}
	merged := profile.Merge(existing, incoming, s.opts.Now())
	if err := s.store.UpsertProfile(ctx, merged); err != nil {
		return merged, err
	}
	return merged, nil
}
