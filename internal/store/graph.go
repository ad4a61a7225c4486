package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/novel-memory/internal/model"
)

// NormalizeName folds case and inner whitespace for entity matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// UpsertEntity merges e into the entity with the same type and normalized
// name. The chapter span only widens, abilities and constraints are unioned,
// and a recorded death is never cleared.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, e model.EntityState) (model.EntityState, error) {
	if strings.TrimSpace(e.Name) == "" {
		return e, fmt.Errorf("upsert entity: empty name")
	}
	if e.Type == "" {
		e.Type = model.EntityCharacter
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out model.EntityState
	err := s.heal("upsert entity", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE type = ? AND norm_name = ?`,
			e.Type, NormalizeName(e.Name))
		existing, err := scanEntity(row)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			out = e
			out.ID = s.newID()
			out.CreatedAt = s.now()
			if out.LastSeenChapter < out.FirstSeenChapter {
				out.LastSeenChapter = out.FirstSeenChapter
			}
		case err != nil:
			return err
		default:
			out = mergeEntity(existing, e)
		}
		out.UpdatedAt = s.now()

		attrs, err := marshalJSON(out.Attrs)
		if err != nil {
			return err
		}
		constraints, err := marshalJSON(out.Constraints)
		if err != nil {
			return err
		}
		if out.ID == existing.ID {
			_, err = tx.ExecContext(ctx, `
				UPDATE entities SET attrs = ?, constraints = ?, first_seen = ?, last_seen = ?, updated_at = ?
				WHERE id = ?`,
				attrs, constraints, out.FirstSeenChapter, out.LastSeenChapter, formatTime(out.UpdatedAt), out.ID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entities (id, type, name, norm_name, attrs, constraints, first_seen, last_seen, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				out.ID, out.Type, out.Name, NormalizeName(out.Name), attrs, constraints,
				out.FirstSeenChapter, out.LastSeenChapter, formatTime(out.CreatedAt), formatTime(out.UpdatedAt))
		}
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return e, fmt.Errorf("upsert entity: %w", err)
	}
	return out, nil
}

func mergeEntity(old, in model.EntityState) model.EntityState {
	out := old
	if in.FirstSeenChapter > 0 && (out.FirstSeenChapter == 0 || in.FirstSeenChapter < out.FirstSeenChapter) {
		out.FirstSeenChapter = in.FirstSeenChapter
	}
	if in.LastSeenChapter > out.LastSeenChapter {
		out.LastSeenChapter = in.LastSeenChapter
	}
	if in.FirstSeenChapter > out.LastSeenChapter {
		out.LastSeenChapter = in.FirstSeenChapter
	}

	attrs := make(map[string]any, len(old.Attrs)+len(in.Attrs))
	for k, v := range old.Attrs {
		attrs[k] = v
	}
	for k, v := range in.Attrs {
		switch k {
		case model.AttrIsDead:
			if old.IsDead() {
				continue
			}
			attrs[k] = v
		case model.AttrAbilities:
			attrs[k] = unionStrings(old.Abilities(), in.Abilities())
		default:
			attrs[k] = v
		}
	}
	out.Attrs = attrs
	out.Constraints = unionStrings(old.Constraints, in.Constraints)
	return out
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

const entityColumns = `id, type, name, attrs, constraints, first_seen, last_seen, created_at, updated_at`

func scanEntity(sc scanner) (model.EntityState, error) {
	var e model.EntityState
	var attrs, constraints sql.NullString
	var created, updated string
	if err := sc.Scan(&e.ID, &e.Type, &e.Name, &attrs, &constraints, &e.FirstSeenChapter, &e.LastSeenChapter,
		&created, &updated); err != nil {
		return e, err
	}
	if attrs.String != "" {
		json.Unmarshal([]byte(attrs.String), &e.Attrs)
	}
	if constraints.String != "" {
		json.Unmarshal([]byte(constraints.String), &e.Constraints)
	}
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return e, nil
}

// Entities lists entities of a type ("" for all) ordered by first appearance.
func (s *SQLiteStore) Entities(ctx context.Context, typ string) ([]model.EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + entityColumns + ` FROM entities`
	var args []any
	if typ != "" {
		q += ` WHERE type = ?`
		args = append(args, typ)
	}
	q += ` ORDER BY first_seen, name`

	var out []model.EntityState
	err := s.heal("list entities", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntity(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return out, nil
}

// ReplaceChapterEvents deletes the chapter's events and inserts edges in one
// transaction.
func (s *SQLiteStore) ReplaceChapterEvents(ctx context.Context, chapter int, edges []model.EventEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.heal("replace events", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE chapter = ?`, chapter); err != nil {
			return err
		}
		now := formatTime(s.now())
		for _, e := range edges {
			if e.ID == "" {
				e.ID = s.newID()
			}
			var storyTime sql.NullString
			if e.Timestamp != nil {
				storyTime = sql.NullString{String: formatTime(*e.Timestamp), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO events (id, subject, relation, object, chapter, story_time, confidence, description, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID, e.Subject, e.Relation, e.Object, chapter, storyTime, e.Confidence, e.Description, now); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("replace chapter %d events: %w", chapter, err)
	}
	return nil
}

// Events lists every event ordered by chapter.
func (s *SQLiteStore) Events(ctx context.Context) ([]model.EventEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.EventEdge
	err := s.heal("list events", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, subject, relation, object, chapter, story_time, confidence, description
			FROM events ORDER BY chapter, created_at, id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e model.EventEdge
			var object, storyTime, desc sql.NullString
			if err := rows.Scan(&e.ID, &e.Subject, &e.Relation, &object, &e.Chapter, &storyTime,
				&e.Confidence, &desc); err != nil {
				return err
			}
			e.Object = object.String
			e.Description = desc.String
			if storyTime.Valid {
				if t, err := time.Parse(time.RFC3339Nano, storyTime.String); err == nil {
					e.Timestamp = &t
				}
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// DeleteChapterEvents removes the chapter's events.
func (s *SQLiteStore) DeleteChapterEvents(ctx context.Context, chapter int) error {
	return s.ReplaceChapterEvents(ctx, chapter, nil)
}
