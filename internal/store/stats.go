package store

import (
	"context"
	"os"
	"path/filepath"
)

// Stats holds project statistics.
type Stats struct {
	DBPath        string         `json:"db_path"`
	DBSizeBytes   int64          `json:"db_size_bytes"`
	TotalItems    int            `json:"total_items"`
	Tiers         map[string]int `json:"tiers"`
	Entities      int            `json:"entities"`
	Events        int            `json:"events"`
	Profiles      int            `json:"profiles"`
	Chapters      int            `json:"chapters"`
	OpenConflicts int            `json:"open_conflicts"`
	Episodes      int            `json:"episodes"`
	DailyLogs     int            `json:"daily_logs"`
}

// Stats returns counts across the project's layers.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dbPath := filepath.Join(s.dir, DBFile)
	st := &Stats{DBPath: dbPath, Tiers: map[string]int{}}
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	err := s.heal("stats", func() error {
		counts := []struct {
			q   string
			dst *int
		}{
			{`SELECT COUNT(*) FROM memory_items`, &st.TotalItems},
			{`SELECT COUNT(*) FROM entities`, &st.Entities},
			{`SELECT COUNT(*) FROM events`, &st.Events},
			{`SELECT COUNT(*) FROM profiles`, &st.Profiles},
			{`SELECT COUNT(*) FROM chapters`, &st.Chapters},
			{`SELECT COUNT(*) FROM conflicts WHERE resolved = 0 AND exempted = 0`, &st.OpenConflicts},
		}
		for _, c := range counts {
			if err := s.db.QueryRowContext(ctx, c.q).Scan(c.dst); err != nil {
				return err
			}
		}

		rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM memory_items GROUP BY tier ORDER BY tier`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var tier string
			var n int
			if err := rows.Scan(&tier, &n); err != nil {
				return err
			}
			st.Tiers[tier] = n
		}
		return rows.Err()
	})
	if err != nil {
		return st, err
	}

	if eps, err := s.scanEpisodes(); err == nil {
		st.Episodes = len(eps)
	}
	st.DailyLogs = len(s.logFiles())
	return st, nil
}
