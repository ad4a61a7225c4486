// Package registry owns the open projects of one process. Each project is
// opened on first use and kept until it is evicted or the registry closes.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/rcliao/novel-memory/internal/config"
	"github.com/rcliao/novel-memory/internal/embedding"
	"github.com/rcliao/novel-memory/internal/llm"
	"github.com/rcliao/novel-memory/internal/search"
	"github.com/rcliao/novel-memory/internal/store"
	"github.com/rcliao/novel-memory/internal/studio"
	"github.com/rcliao/novel-memory/internal/vecindex"
)

// ErrClosed is returned by a registry after Close.
var ErrClosed = errors.New("registry closed")

// ErrInvalidProject is returned for ids that cannot name a project directory.
var ErrInvalidProject = errors.New("invalid project id")

var projectIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidProjectID reports whether id can name a project.
func ValidProjectID(id string) bool {
	return projectIDRe.MatchString(id) && id != "." && id != ".."
}

// Project is one opened project and its collaborators.
type Project struct {
	ID     string
	Dir    string
	Store  *store.SQLiteStore
	Index  *vecindex.Manager
	Search *search.Engine
	LLM    llm.Client
	Studio *studio.Studio
}

func (p *Project) close() error {
	return errors.Join(p.Index.Close(), p.Store.Close())
}

// Registry opens projects under root on demand and caches them.
type Registry struct {
	root   string
	cfg    config.Config
	logger *slog.Logger

	// newClient builds the chat collaborator of a project.
	newClient func(embedding.Embedder) llm.Client

	mu       sync.Mutex
	projects map[string]*Project
	pool     *llm.Pool
	closed   bool
}

// New returns a registry rooted at cfg.DataDir. A nil logger means
// slog.Default().
func New(cfg config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		root:     cfg.DataDir,
		cfg:      cfg,
		logger:   logger,
		projects: map[string]*Project{},
		pool:     llm.NewPool(cfg.WorkerPoolSize),
	}
	r.newClient = func(emb embedding.Embedder) llm.Client {
		return llm.New(cfg.LLM, emb, logger)
	}
	return r
}

// Root is the directory holding one subdirectory per project.
func (r *Registry) Root() string { return r.root }

// Open returns the cached project or opens it, creating its directory
// layout on first use.
func (r *Registry) Open(projectID string) (*Project, error) {
	if !ValidProjectID(projectID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if p, ok := r.projects[projectID]; ok {
		return p, nil
	}

	dir := filepath.Join(r.root, projectID)
	logger := r.logger.With("project", projectID)
	s, err := store.Open(dir, store.Options{
		Logger:             logger,
		LogRetentionDays:   r.cfg.LogRetentionDays,
		CompactionInterval: r.cfg.CompactionInterval,
		RollingWindow:      r.cfg.RollingWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", projectID, err)
	}

	emb := embedding.NewFromConfig(r.cfg.Embed)
	idx := vecindex.NewManager(dir, s, emb, vecindex.Options{
		Logger:      logger,
		Concurrency: r.cfg.WorkerPoolSize,
	})
	engine := search.New(s, idx, logger)
	client := llm.NewPooled(r.newClient(emb), r.pool, emb.Dims())

	p := &Project{
		ID:     projectID,
		Dir:    dir,
		Store:  s,
		Index:  idx,
		Search: engine,
		LLM:    client,
		Studio: studio.New(s, client, studio.Options{
			ProjectID:   projectID,
			Mode:        r.cfg.MemoryMode,
			InputBudget: r.cfg.InputBudget(),
			TopKThreads: r.cfg.TopKThreads,
			TargetWords: r.cfg.TargetWords,
			JoinTimeout: r.cfg.StreamJoinTimeout,
			Search:      engine,
			Logger:      logger,
		}),
	}
	r.projects[projectID] = p
	logger.Debug("project opened", "dir", dir, "vector_backend", idx.Backend())
	return p, nil
}

// Projects lists the project directories under root, sorted.
func (r *Registry) Projects() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() && ValidProjectID(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Evict closes and forgets a cached project. Evicting a project that is not
// open is a no-op.
func (r *Registry) Evict(projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evict(projectID)
}

func (r *Registry) evict(projectID string) error {
	p, ok := r.projects[projectID]
	if !ok {
		return nil
	}
	delete(r.projects, projectID)
	if err := p.close(); err != nil {
		return fmt.Errorf("close project %s: %w", projectID, err)
	}
	r.logger.Debug("project evicted", "project", projectID)
	return nil
}

// Delete evicts a project and removes its directory. A missing project
// returns store.ErrNotFound.
func (r *Registry) Delete(projectID string) error {
	if !ValidProjectID(projectID) {
		return fmt.Errorf("%w: %q", ErrInvalidProject, projectID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.evict(projectID); err != nil {
		return err
	}
	dir := filepath.Join(r.root, projectID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove project %s: %w", projectID, err)
	}
	r.logger.Info("project deleted", "project", projectID)
	return nil
}

// Close evicts every open project in id order. Later calls return nil.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	ids := make([]string, 0, len(r.projects))
	for id := range r.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var errs []error
	for _, id := range ids {
		errs = append(errs, r.evict(id))
	}
	return errors.Join(errs...)
}
