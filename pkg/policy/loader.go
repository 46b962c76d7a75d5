package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of file events into a single reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads policies from a directory and can watch it for changes.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]cachedPolicy
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

type cachedPolicy struct {
	policy  Policy
	modTime time.Time
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

// LoadDir loads every .rego and .json policy below dir, sorted by path. A
// .rego file becomes a policy named after the file; a .json file holds a
// full Policy document. Policy names must be unique.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Policy, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory %s: %w", dir, err)
	}
	sort.Strings(paths)

	policies := make([]Policy, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("policy %q defined in both %s and %s", p.Name, prev, path)
		}
		seen[p.Name] = path
		policies = append(policies, p)
	}

	l.logger.Info().
		Str("dir", dir).
		Int("total", len(policies)).
		Msg("Policies loaded from directory")

	return policies, nil
}

// LoadFile loads one policy file. Unchanged files are served from cache.
func (l *Loader) LoadFile(path string) (Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to stat policy file: %w", err)
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = parseRegoFile(path, data)
	case ".json":
		p, err = parseJSONFile(path, data)
		if err != nil {
			return Policy{}, err
		}
	default:
		return Policy{}, fmt.Errorf("unsupported policy file type: %s", path)
	}
	p.UpdatedAt = info.ModTime()

	l.mu.Lock()
	l.cache[path] = cachedPolicy{policy: p, modTime: info.ModTime()}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Str("policy", p.Name).
		Msg("Policy loaded from file")

	return p, nil
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

func parseRegoFile(path string, data []byte) Policy {
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Enabled:     true,
		Source:      path,
	}
}

func parseJSONFile(path string, data []byte) (Policy, error) {
	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse JSON policy %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	p.Source = path
	return p, nil
}

// extractDescription joins the leading comment block of a Rego module.
func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment == "" {
				continue
			}
			if description.Len() > 0 {
				description.WriteString(" ")
			}
			description.WriteString(comment)
		} else if trimmed != "" && description.Len() > 0 {
			break
		}
	}

	return description.String()
}

// Watch watches dir and calls reloadFn with the freshly loaded policies
// after files are written, created, removed or renamed. Events are
// debounced. Watching stops when ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, dir string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch policy directory %s: %w", dir, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, dir, reloadFn)

	l.logger.Info().Str("dir", dir).Msg("Started watching policy directory")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, dir string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, dir, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, dir string, reloadFn func([]Policy) error) error {
	if ctx.Err() != nil {
		return nil
	}

	policies, err := l.LoadDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// ClearCache drops every cached policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cachedPolicy)
	l.logger.Debug().Msg("Policy cache cleared")
}
