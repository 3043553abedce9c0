package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tombee/baton/pkg/errors"
)

// Resolver resolves workflow definitions by name and version.
// Version 0 means "latest": the highest version registered under the name.
// Executions pin the resolved version at submission time, so a Resolver
// must keep serving old versions for as long as executions reference them.
type Resolver interface {
	Resolve(ctx context.Context, name string, version int) (*Definition, error)
}

// StaticResolver serves definitions from an in-memory map.
// It is thread-safe and suitable for testing or embedded deployments.
type StaticResolver struct {
	mu   sync.RWMutex
	defs map[string]map[int]*Definition
}

// NewStaticResolver creates a resolver pre-loaded with the given definitions.
func NewStaticResolver(defs ...*Definition) *StaticResolver {
	r := &StaticResolver{
		defs: make(map[string]map[int]*Definition),
	}
	for _, def := range defs {
		r.Add(def)
	}
	return r
}

// Add registers a definition, replacing any existing (name, version) entry.
func (r *StaticResolver) Add(def *Definition) {
	if def == nil || def.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.defs[def.Name]
	if !ok {
		versions = make(map[int]*Definition)
		r.defs[def.Name] = versions
	}
	versions[def.Version] = def
}

// Resolve returns the definition for (name, version), or the highest
// version when version is 0.
func (r *StaticResolver) Resolve(ctx context.Context, name string, version int) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.defs, name, version)
}

// lookup implements the shared resolution rule over a name→version map.
func lookup(defs map[string]map[int]*Definition, name string, version int) (*Definition, error) {
	versions, ok := defs[name]
	if !ok || len(versions) == 0 {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: name}
	}

	if version == 0 {
		latest := 0
		for v := range versions {
			if v > latest {
				latest = v
			}
		}
		return versions[latest], nil
	}

	def, ok := versions[version]
	if !ok {
		return nil, &errors.NotFoundError{
			Resource: "workflow",
			ID:       fmt.Sprintf("%s@v%d", name, version),
		}
	}
	return def, nil
}

// debounceWindow coalesces bursts of filesystem events (editor saves touch
// a file several times) into a single reload.
const debounceWindow = 100 * time.Millisecond

// defaultPatterns are the glob patterns used to discover definition files.
var defaultPatterns = []string{"**/*.yaml", "**/*.yml"}

// DirResolver serves definitions loaded from a directory of YAML files.
// Files are discovered with doublestar glob patterns relative to the root
// directory, so nested layouts like workflows/billing/invoice.yaml work.
// An optional fsnotify watcher re-scans the directory when files change.
type DirResolver struct {
	dir      string
	patterns []string
	logger   *slog.Logger

	mu   sync.RWMutex
	defs map[string]map[int]*Definition

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDirResolver creates a resolver rooted at dir and performs the initial
// scan. If no patterns are given, *.yaml and *.yml files are discovered
// recursively.
func NewDirResolver(dir string, logger *slog.Logger, patterns ...string) (*DirResolver, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workflow directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}

	// Validate patterns compile before the first scan
	for _, pattern := range patterns {
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return nil, fmt.Errorf("invalid workflow pattern %q: %w", pattern, err)
		}
	}

	r := &DirResolver{
		dir:      absDir,
		patterns: patterns,
		logger:   logger.With(slog.String("component", "workflow_resolver"), slog.String("dir", absDir)),
		defs:     make(map[string]map[int]*Definition),
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve returns the definition for (name, version), or the highest
// version when version is 0.
func (r *DirResolver) Resolve(ctx context.Context, name string, version int) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.defs, name, version)
}

// Names returns the sorted set of workflow names currently loaded.
func (r *DirResolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

// Reload re-scans the directory and atomically replaces the loaded set.
// Files that fail to parse or validate are skipped with a warning so one
// broken definition cannot take down the rest of the catalog.
func (r *DirResolver) Reload() error {
	defs := make(map[string]map[int]*Definition)
	seen := make(map[string]string) // name@version → file, for collision warnings

	for _, pattern := range r.patterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(r.dir, pattern))
		if err != nil {
			return fmt.Errorf("failed to scan workflow directory: %w", err)
		}

		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				r.logger.Warn("skipping unreadable workflow file", "path", path, "error", err)
				continue
			}

			def, err := ParseDefinition(data)
			if err != nil {
				r.logger.Warn("skipping invalid workflow file", "path", path, "error", err)
				continue
			}

			key := fmt.Sprintf("%s@v%d", def.Name, def.Version)
			if prev, dup := seen[key]; dup {
				r.logger.Warn("duplicate workflow definition, later file wins",
					"workflow", key, "kept", path, "replaced", prev)
			}
			seen[key] = path

			versions, ok := defs[def.Name]
			if !ok {
				versions = make(map[int]*Definition)
				defs[def.Name] = versions
			}
			versions[def.Version] = def
		}
	}

	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()

	r.logger.Debug("workflow definitions loaded", "count", len(seen))

	// Pick up directories created since the last scan
	if r.watcher != nil {
		r.watchSubdirs()
	}
	return nil
}

// Watch starts a background goroutine that re-scans the directory when
// definition files are created, modified, or removed. Rapid event bursts
// are debounced. Stop with Close or by cancelling ctx.
func (r *DirResolver) Watch(ctx context.Context) error {
	if r.watcher != nil {
		return fmt.Errorf("workflow resolver is already watching")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(r.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch workflow directory: %w", err)
	}

	r.watcher = fsw
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.watchSubdirs()

	go r.watchLoop(ctx)
	r.logger.Info("workflow directory watch started")
	return nil
}

// Close stops the watch goroutine, if any, and releases the watcher.
func (r *DirResolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.stopCh)
	<-r.doneCh
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

// watchSubdirs registers every subdirectory with the watcher.
// fsnotify watches are not recursive, so each directory needs its own.
func (r *DirResolver) watchSubdirs() {
	err := filepath.WalkDir(r.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() && path != r.dir {
			if werr := r.watcher.Add(path); werr != nil {
				r.logger.Debug("failed to watch subdirectory", "path", path, "error", werr)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Debug("subdirectory walk failed", "error", err)
	}
}

// watchLoop coalesces filesystem events into debounced reloads.
func (r *DirResolver) watchLoop(ctx context.Context) {
	defer close(r.doneCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("workflow directory watch stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("workflow directory watch stopped")
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevantEvent(event) {
				continue
			}
			// New directories must be registered before their files
			// generate events
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if werr := r.watcher.Add(event.Name); werr != nil {
						r.logger.Debug("failed to watch new subdirectory", "path", event.Name, "error", werr)
					}
				}
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}
		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("workflow reload failed", "error", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("workflow watcher error", "error", err)
		}
	}
}

// relevantEvent reports whether an fsnotify event should trigger a reload.
func (r *DirResolver) relevantEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext == ".yaml" || ext == ".yml" {
		return true
	}

	// Directory events matter too: a new subdirectory may carry files
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return true
		}
	}
	return event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename)
}
