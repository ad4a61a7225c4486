package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rcliao/novel-memory/internal/chunker"
	"github.com/rcliao/novel-memory/internal/model"
)

const summaryRunes = 80

var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("novel-memory/memory-item"))

// ItemID is the stable id of the memory item mirroring a source path.
func ItemID(sourcePath string) string {
	return uuid.NewSHA1(itemNamespace, []byte(sourcePath)).String()
}

// Summarize returns the first meaningful line clipped to 80 runes, suffixed
// with a short content hash.
func Summarize(hint, content string) string {
	line := strings.TrimSpace(hint)
	if line == "" {
		for _, l := range strings.Split(content, "\n") {
			l = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "#"))
			if l != "" && l != "---" {
				line = l
				break
			}
		}
	}
	sum := sha1.Sum([]byte(content))
	return chunker.Runes(line, summaryRunes) + " [sha1:" + hex.EncodeToString(sum[:])[:10] + "]"
}

const itemColumns = `id, tier, source_path, summary, content, entities, time_span, importance, recency, created_at, updated_at, metadata`

func scanItem(sc scanner) (model.MemoryItem, error) {
	var it model.MemoryItem
	var tier, created, updated string
	var entities, timeSpan, meta sql.NullString
	if err := sc.Scan(&it.ID, &tier, &it.SourcePath, &it.Summary, &it.Content, &entities, &timeSpan,
		&it.Importance, &it.Recency, &created, &updated, &meta); err != nil {
		return it, err
	}
	it.Tier = model.Tier(tier)
	it.TimeSpan = timeSpan.String
	it.CreatedAt = parseTime(created)
	it.UpdatedAt = parseTime(updated)
	if entities.Valid && entities.String != "" {
		json.Unmarshal([]byte(entities.String), &it.Entities)
	}
	if meta.Valid && meta.String != "" {
		json.Unmarshal([]byte(meta.String), &it.Metadata)
	}
	return it, nil
}

// Items lists indexed memory items, optionally restricted to tiers, ordered by id.
func (s *SQLiteStore) Items(ctx context.Context, tiers ...model.Tier) ([]model.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + itemColumns + ` FROM memory_items`
	var args []any
	if len(tiers) > 0 {
		q += ` WHERE tier IN (` + placeholders(len(tiers)) + `)`
		for _, t := range tiers {
			args = append(args, string(t))
		}
	}
	q += ` ORDER BY id`

	var items []model.MemoryItem
	err := s.heal("list items", func() error {
		items = nil
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, it)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// ItemsByID returns the items with the given ids, keyed by id. Unknown ids are
// absent from the map.
func (s *SQLiteStore) ItemsByID(ctx context.Context, ids []string) (map[string]model.MemoryItem, error) {
	out := make(map[string]model.MemoryItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err := s.heal("get items", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM memory_items WHERE id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return err
			}
			out[it.ID] = it
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
