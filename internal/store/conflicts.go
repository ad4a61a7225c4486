package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/novel-memory/internal/model"
)

// SaveConflicts replaces the chapter's open conflicts with cs. A conflict in
// cs that was resolved earlier is reopened, since the text still triggers it.
// Exempted P1 conflicts keep their exemption.
func (s *SQLiteStore) SaveConflicts(ctx context.Context, chapter int, cs []model.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.heal("save conflicts", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conflicts WHERE chapter = ? AND resolved = 0 AND exempted = 0`, chapter); err != nil {
			return err
		}
		for _, c := range cs {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = s.now()
			}
			evidence, err := json.Marshal(c.EvidencePaths)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conflicts (id, chapter, severity, rule_id, evidence, reason, suggested_fix,
					resolved, exempted, resolution, created_at, resolved_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					severity = excluded.severity, reason = excluded.reason, suggested_fix = excluded.suggested_fix,
					evidence = excluded.evidence, resolved = 0, exempted = 0, resolution = '', resolved_at = NULL
				WHERE conflicts.exempted = 0 OR excluded.severity = 'P0'`,
				c.ID, chapter, string(c.Severity), c.RuleID, string(evidence), c.Reason, c.SuggestedFix,
				boolInt(c.Resolved), boolInt(c.Exempted), c.Resolution, formatTime(c.CreatedAt),
				nullTime(c.ResolvedAt)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("save chapter %d conflicts: %w", chapter, err)
	}
	return nil
}

const conflictColumns = `id, chapter, severity, rule_id, evidence, reason, suggested_fix, resolved, exempted, resolution, created_at, resolved_at`

func scanConflict(sc scanner) (model.Conflict, error) {
	var c model.Conflict
	var severity, created string
	var evidence, fix, resolution, resolvedAt sql.NullString
	var resolved, exempted int
	if err := sc.Scan(&c.ID, &c.Chapter, &severity, &c.RuleID, &evidence, &c.Reason, &fix,
		&resolved, &exempted, &resolution, &created, &resolvedAt); err != nil {
		return c, err
	}
	c.Severity = model.Severity(severity)
	c.SuggestedFix = fix.String
	c.Resolution = resolution.String
	c.Resolved, c.Exempted = resolved != 0, exempted != 0
	c.CreatedAt = parseTime(created)
	if resolvedAt.Valid && resolvedAt.String != "" {
		t := parseTime(resolvedAt.String)
		c.ResolvedAt = &t
	}
	if evidence.String != "" {
		json.Unmarshal([]byte(evidence.String), &c.EvidencePaths)
	}
	return c, nil
}

// Conflicts lists a chapter's conflicts (every chapter when chapter <= 0),
// most severe first.
func (s *SQLiteStore) Conflicts(ctx context.Context, chapter int) ([]model.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + conflictColumns + ` FROM conflicts`
	var args []any
	if chapter > 0 {
		q += ` WHERE chapter = ?`
		args = append(args, chapter)
	}
	q += ` ORDER BY chapter, severity, rule_id, id`

	var out []model.Conflict
	err := s.heal("list conflicts", func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanConflict(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return out, nil
}

// Conflict returns one conflict by id or ErrNotFound.
func (s *SQLiteStore) Conflict(ctx context.Context, id string) (model.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c model.Conflict
	err := s.heal("get conflict", func() error {
		var err error
		c, err = scanConflict(s.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("get conflict: %w", err)
	}
	return c, nil
}

// UpdateConflict persists the resolution state of c.
func (s *SQLiteStore) UpdateConflict(ctx context.Context, c model.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	err := s.heal("update conflict", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE conflicts SET resolved = ?, exempted = ?, resolution = ?, resolved_at = ? WHERE id = ?`,
			boolInt(c.Resolved), boolInt(c.Exempted), c.Resolution, nullTime(c.ResolvedAt), c.ID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conflict %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
