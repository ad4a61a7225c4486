package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the layered memory store for one project directory.
// Readers share the lock; every write holds it exclusively for one transaction.
type SQLiteStore struct {
	mu      sync.RWMutex
	dir     string
	db      *sql.DB
	opts    Options
	entropy *rand.Rand
}

// DBFile is the row mirror's file name inside a project directory.
const DBFile = "novelist.db"

var pragmas = []string{
	"journal_mode(wal)",
	"busy_timeout(5000)",
	"foreign_keys(on)",
}

// NewSQLiteStore opens or creates the store rooted at projectDir, creating
// missing directories and default documents on demand.
func NewSQLiteStore(projectDir string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()
	s := &SQLiteStore{
		dir:     projectDir,
		opts:    opts,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.ensureLayout(); err != nil {
		return nil, fmt.Errorf("create layout: %w", err)
	}

	dsn := filepath.Join(projectDir, DBFile) + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Dir returns the project directory.
func (s *SQLiteStore) Dir() string { return s.dir }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.opts.Now()), s.entropy).String()
}

func (s *SQLiteStore) now() time.Time { return s.opts.Now().UTC() }

const schema = `
CREATE TABLE IF NOT EXISTS memory_items (
	id          TEXT PRIMARY KEY,
	tier        TEXT NOT NULL,
	source_path TEXT NOT NULL,
	summary     TEXT NOT NULL,
	content     TEXT NOT NULL,
	entities    TEXT,
	time_span   TEXT,
	importance  INTEGER NOT NULL DEFAULT 5,
	recency     INTEGER NOT NULL DEFAULT 5,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	metadata    TEXT
);
CREATE INDEX IF NOT EXISTS idx_items_tier ON memory_items(tier);
CREATE INDEX IF NOT EXISTS idx_items_source ON memory_items(source_path);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	name        TEXT NOT NULL,
	norm_name   TEXT NOT NULL,
	attrs       TEXT,
	constraints TEXT,
	first_seen  INTEGER NOT NULL,
	last_seen   INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE(type, norm_name)
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL,
	relation    TEXT NOT NULL,
	object      TEXT,
	chapter     INTEGER NOT NULL,
	story_time  TEXT,
	confidence  REAL NOT NULL DEFAULT 1.0,
	description TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_chapter ON events(chapter);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);

CREATE TABLE IF NOT EXISTS profiles (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	override_source      TEXT NOT NULL,
	last_updated_chapter INTEGER NOT NULL DEFAULT 0,
	data                 TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	id         TEXT PRIMARY KEY,
	number     INTEGER NOT NULL UNIQUE,
	title      TEXT NOT NULL,
	goal       TEXT,
	plan       TEXT,
	draft      TEXT,
	final      TEXT,
	status     TEXT NOT NULL,
	word_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	id            TEXT PRIMARY KEY,
	chapter       INTEGER NOT NULL,
	severity      TEXT NOT NULL,
	rule_id       TEXT NOT NULL,
	evidence      TEXT,
	reason        TEXT NOT NULL,
	suggested_fix TEXT,
	resolved      INTEGER NOT NULL DEFAULT 0,
	exempted      INTEGER NOT NULL DEFAULT 0,
	resolution    TEXT,
	created_at    TEXT NOT NULL,
	resolved_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_chapter ON conflicts(chapter);

CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	summary,
	content,
	content=memory_items,
	content_rowid=rowid
);
`

var triggers = []string{
	`CREATE TRIGGER IF NOT EXISTS memory_items_ai AFTER INSERT ON memory_items BEGIN
		INSERT INTO memory_fts(rowid, summary, content) VALUES (new.rowid, new.summary, new.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memory_items_ad AFTER DELETE ON memory_items BEGIN
		INSERT INTO memory_fts(memory_fts, rowid, summary, content) VALUES('delete', old.rowid, old.summary, old.content);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memory_items_au AFTER UPDATE ON memory_items BEGIN
		INSERT INTO memory_fts(memory_fts, rowid, summary, content) VALUES('delete', old.rowid, old.summary, old.content);
		INSERT INTO memory_fts(rowid, summary, content) VALUES (new.rowid, new.summary, new.content);
	END`,
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}

// isSchemaMissing reports errors that mean the mirror lost a table or index.
func isSchemaMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "malformed")
}

// heal runs fn and, when it fails on a missing or damaged table, reinitializes
// the schema, rebuilds the full-text index from memory_items and retries once.
func (s *SQLiteStore) heal(op string, fn func() error) error {
	err := fn()
	if !isSchemaMissing(err) {
		return err
	}
	s.opts.Logger.Warn("memory schema damaged, reinitializing", "op", op, "error", err)
	if herr := s.reinitialize(strings.Contains(err.Error(), "malformed")); herr != nil {
		return fmt.Errorf("%s: reinitialize schema: %w", op, herr)
	}
	return fn()
}

// reinitialize recreates missing tables and resyncs memory_fts with its
// content table. A desynced index is dropped first.
func (s *SQLiteStore) reinitialize(dropIndex bool) error {
	if dropIndex {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS memory_fts`); err != nil {
			return fmt.Errorf("drop fts index: %w", err)
		}
	}
	if err := s.migrate(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO memory_fts(memory_fts) VALUES('rebuild')`); err != nil {
		return fmt.Errorf("rebuild fts index: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

type scanner interface {
	Scan(dest ...any) error
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
