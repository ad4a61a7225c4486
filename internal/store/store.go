// Package store persists the four memory tiers of one project: human-editable
// markdown documents on disk and their indexed SQLite mirror.
package store

import (
	"errors"
	"log/slog"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Defaults used when Options leaves a field zero.
const (
	DefaultLogRetentionDays   = 30
	DefaultCompactionInterval = 3
	DefaultRollingWindow      = 3
	DefaultUnresolvedInMemory = 5
)

// Options configures a project store.
type Options struct {
	Logger             *slog.Logger
	Now                func() time.Time
	LogRetentionDays   int
	CompactionInterval int
	RollingWindow      int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.LogRetentionDays <= 0 {
		o.LogRetentionDays = DefaultLogRetentionDays
	}
	if o.CompactionInterval <= 0 {
		o.CompactionInterval = DefaultCompactionInterval
	}
	if o.RollingWindow <= 0 {
		o.RollingWindow = DefaultRollingWindow
	}
	return o
}

// LexicalHit is one row returned by the lexical search path.
type LexicalHit struct {
	ItemID     string  `json:"item_id"`
	Tier       string  `json:"tier"`
	SourcePath string  `json:"source_path"`
	Summary    string  `json:"summary"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"` // normalized to [0,1], higher is better
	Evidence   string  `json:"evidence,omitempty"`
	Method     string  `json:"method"` // fts or like
}

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Synced     int      `json:"synced"`
	Removed    int      `json:"removed"`
	PurgedLogs []string `json:"purged_logs,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
}

// Open is NewSQLiteStore.
func Open(projectDir string, opts Options) (*SQLiteStore, error) {
	return NewSQLiteStore(projectDir, opts)
}
