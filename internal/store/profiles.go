package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/novel-memory/internal/model"
)

// UpsertProfile stores an L4 character profile, replacing any profile with the
// same id.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.CharacterProfile) error {
	if p.ID == "" {
		return fmt.Errorf("upsert profile: empty id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.heal("upsert profile", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (id, name, override_source, last_updated_chapter, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, override_source = excluded.override_source,
				last_updated_chapter = excluded.last_updated_chapter,
				data = excluded.data, updated_at = excluded.updated_at`,
			p.ID, p.Name, p.OverrideSource, p.LastUpdatedChapter, string(data), formatTime(p.UpdatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Profile returns the profile with the given id or ErrNotFound.
func (s *SQLiteStore) Profile(ctx context.Context, id string) (model.CharacterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p model.CharacterProfile
	err := s.heal("get profile", func() error {
		var data string
		if err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE id = ?`, id).Scan(&data); err != nil {
			return err
		}
		return json.Unmarshal([]byte(data), &p)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// Profiles lists every profile ordered by name.
func (s *SQLiteStore) Profiles(ctx context.Context) ([]model.CharacterProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProfiles(ctx)
}

// listProfiles reads every profile. Caller holds the lock.
func (s *SQLiteStore) listProfiles(ctx context.Context) ([]model.CharacterProfile, error) {
	var out []model.CharacterProfile
	err := s.heal("list profiles", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `SELECT data FROM profiles ORDER BY name, id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var data string
			if err := rows.Scan(&data); err != nil {
				return err
			}
			var p model.CharacterProfile
			if err := json.Unmarshal([]byte(data), &p); err != nil {
				s.opts.Logger.Warn("skip malformed profile", "error", err)
				continue
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return out, nil
}

// RenderProfile formats a profile as searchable markdown.
func RenderProfile(p model.CharacterProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	if p.Overview != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Overview)
	}
	if p.Personality != "" {
		fmt.Fprintf(&b, "## Personality\n\n%s\n\n", p.Personality)
	}
	if len(p.Relationships) > 0 {
		b.WriteString("## Relationships\n\n")
		for _, r := range p.Relationships {
			fmt.Fprintf(&b, "- %s %s %s (ch%d)", r.Source, r.Type, r.Target, r.Chapter)
			if r.Description != "" {
				b.WriteString(": " + r.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(p.StateChanges) > 0 {
		b.WriteString("## State Changes\n\n")
		for _, c := range p.StateChanges {
			fmt.Fprintf(&b, "- ch%d %s: %s -> %s\n", c.Chapter, c.Attribute, c.From, c.To)
		}
		b.WriteString("\n")
	}
	if len(p.ChapterEvents) > 0 {
		b.WriteString("## Events\n\n")
		for _, e := range p.ChapterEvents {
			fmt.Fprintf(&b, "- ch%d %s\n", e.Chapter, e.Summary)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
