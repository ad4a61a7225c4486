package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcliao/novel-memory/internal/model"
	"github.com/rcliao/novel-memory/internal/textclean"
)

// SaveChapter inserts or updates the chapter with c.Number. Word count is
// recomputed from the chapter text.
func (s *SQLiteStore) SaveChapter(ctx context.Context, c *model.Chapter) error {
	if c.Number <= 0 {
		return fmt.Errorf("save chapter: invalid number %d", c.Number)
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	c.WordCount = textclean.WordCount(c.Text())
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	var plan sql.NullString
	if c.Plan != nil {
		b, err := json.Marshal(c.Plan)
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		plan = sql.NullString{String: string(b), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.heal("save chapter", func() error {
		var existingID string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM chapters WHERE number = ?`, c.Number).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if c.ID == "" {
				c.ID = s.newID()
			}
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO chapters (`+chapterColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.Number, c.Title, c.Goal, plan, c.Draft, c.Final, c.Status, c.WordCount,
				formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		case err != nil:
			return err
		default:
			c.ID = existingID
			_, err = s.db.ExecContext(ctx, `
				UPDATE chapters SET title = ?, goal = ?, plan = ?, draft = ?, final = ?, status = ?,
					word_count = ?, updated_at = ?
				WHERE id = ?`,
				c.Title, c.Goal, plan, c.Draft, c.Final, c.Status, c.WordCount, formatTime(c.UpdatedAt), c.ID)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("save chapter %d: %w", c.Number, err)
	}
	return nil
}

const chapterColumns = `id, number, title, goal, plan, draft, final, status, word_count, created_at, updated_at`

func scanChapter(sc scanner) (model.Chapter, error) {
	var c model.Chapter
	var goal, plan, draft, final sql.NullString
	var created, updated string
	if err := sc.Scan(&c.ID, &c.Number, &c.Title, &goal, &plan, &draft, &final, &c.Status, &c.WordCount,
		&created, &updated); err != nil {
		return c, err
	}
	c.Goal, c.Draft, c.Final = goal.String, draft.String, final.String
	if plan.Valid && plan.String != "" {
		var p model.ChapterPlan
		if err := json.Unmarshal([]byte(plan.String), &p); err == nil {
			c.Plan = &p
		}
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

// Chapter returns chapter number n or ErrNotFound.
func (s *SQLiteStore) Chapter(ctx context.Context, n int) (model.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c model.Chapter
	err := s.heal("get chapter", func() error {
		var err error
		c, err = scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE number = ?`, n))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("chapter %d: %w", n, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("get chapter %d: %w", n, err)
	}
	return c, nil
}

// Chapters lists every chapter ordered by number.
func (s *SQLiteStore) Chapters(ctx context.Context) ([]model.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Chapter
	err := s.heal("list chapters", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, `SELECT `+chapterColumns+` FROM chapters ORDER BY number`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanChapter(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return out, nil
}

// DeleteChapter removes the chapter row and its conflicts. Returns ErrNotFound
// when no such chapter exists.
func (s *SQLiteStore) DeleteChapter(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	err := s.heal("delete chapter", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		res, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE number = ?`, n)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM conflicts WHERE chapter = ?`, n); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("delete chapter %d: %w", n, err)
	}
	if affected == 0 {
		return fmt.Errorf("chapter %d: %w", n, ErrNotFound)
	}
	return nil
}
