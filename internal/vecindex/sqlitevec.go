package vecindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// VectorsDB is the sqlite-vec database file name inside a project directory.
const VectorsDB = "vectors.db"

// SQLiteVec stores vectors in a sqlite-vec vec0 table using cosine distance.
type SQLiteVec struct {
	db      *sql.DB
	version string
}

// OpenSQLiteVec opens vectors.db under dir and verifies the vec0 extension is
// loaded.
func OpenSQLiteVec(dir string) (*SQLiteVec, error) {
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(dir, VectorsDB)+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open vectors db: %w", err)
	}
	var version string
	if err := db.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec unavailable: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS vec_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vec_meta: %w", err)
	}
	return &SQLiteVec{db: db, version: version}, nil
}

func (v *SQLiteVec) Backend() string { return "sqlite-vec " + v.version }

func (v *SQLiteVec) Close() error { return v.db.Close() }

func (v *SQLiteVec) Signature(ctx context.Context) (string, error) {
	var sig string
	err := v.db.QueryRowContext(ctx, `SELECT value FROM vec_meta WHERE key = 'signature'`).Scan(&sig)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return sig, err
}

// Rebuild drops and recreates the vec0 table sized to the entries' dimension.
// The integer rowid keys the table; the item id rides along as an auxiliary column.
func (v *SQLiteVec) Rebuild(ctx context.Context, signature string, entries []Entry) error {
	dims, err := checkDims(entries)
	if err != nil {
		return err
	}
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS vec_items`); err != nil {
		return fmt.Errorf("drop vec_items: %w", err)
	}
	if dims > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE VIRTUAL TABLE vec_items USING vec0(
				embedding float[%d] distance_metric=cosine,
				+item_id TEXT
			)`, dims)); err != nil {
			return fmt.Errorf("create vec_items: %w", err)
		}
		for i, e := range entries {
			raw, err := json.Marshal(e.Vector)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO vec_items(rowid, embedding, item_id) VALUES (?, ?, ?)`,
				int64(i+1), string(raw), e.ItemID); err != nil {
				return fmt.Errorf("insert vector %s: %w", e.ItemID, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vec_meta(key, value) VALUES ('signature', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, signature); err != nil {
		return err
	}
	return tx.Commit()
}

func (v *SQLiteVec) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	var exists int
	if err := v.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE name = 'vec_items'`).Scan(&exists); err != nil || exists == 0 {
		return nil, err
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	rows, err := v.db.QueryContext(ctx, `
		SELECT item_id, distance FROM vec_items
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`, string(raw), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ItemID, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	sortHits(hits)
	return hits, rows.Err()
}
