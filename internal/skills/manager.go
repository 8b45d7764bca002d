package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Config locates the skill directories and the manifest.
type Config struct {
	UserDir      string // user-level skills, lower priority
	ProjectDir   string // workspace skills, override user skills by name
	ManifestPath string
	Debounce     time.Duration // watcher rescan delay
}

// Manager owns the scanned skill set. Scan runs at startup and on
// demand; Watch keeps the set fresh while the process runs.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	skills   map[string]Skill
	manifest *Manifest

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewManager loads the manifest and returns a manager with an empty
// skill set; call Scan to populate it.
func NewManager(cfg Config) (*Manager, error) {
	manifest, err := LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultWatchDebounce
	}
	return &Manager{
		cfg:      cfg,
		logger:   slog.Default().With("component", "skills"),
		skills:   map[string]Skill{},
		manifest: manifest,
	}, nil
}

// Scan walks both skill directories, diffs the result against the
// manifest by mtime and description, and persists the new manifest.
// Files that fail to parse are skipped with a warning. Disabled flags
// carry over for skills that survive the scan.
func (m *Manager) Scan(ctx context.Context) (Changes, error) {
	if err := ctx.Err(); err != nil {
		return Changes{}, err
	}

	found := map[string]Skill{}
	dirs := []struct {
		path   string
		source Source
	}{
		{m.cfg.UserDir, SourceUser},
		{m.cfg.ProjectDir, SourceProject},
	}
	for _, dir := range dirs {
		if dir.path == "" {
			continue
		}
		entries, err := os.ReadDir(dir.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Changes{}, fmt.Errorf("scan %s skills: %w", dir.source, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir.path, e.Name())
			skill, err := ParseFile(path, dir.source)
			if err != nil {
				m.logger.Warn("skipping skill", "path", path, "error", err)
				continue
			}
			// Second pass is the project dir, so it wins same-name conflicts.
			found[skill.Name] = *skill
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var changes Changes
	next := &Manifest{Skills: make(map[string]ManifestEntry, len(found))}
	for name, skill := range found {
		prev, known := m.manifest.Skills[name]
		switch {
		case !known:
			changes.Added = append(changes.Added, name)
		case !prev.ModTime.Equal(skill.ModTime) || prev.Description != skill.Description:
			changes.Modified = append(changes.Modified, name)
		}
		skill.Disabled = known && prev.Disabled
		found[name] = skill
		next.Skills[name] = ManifestEntry{
			Description: skill.Description,
			ModTime:     skill.ModTime,
			Disabled:    skill.Disabled,
		}
	}
	for name := range m.manifest.Skills {
		if _, ok := found[name]; !ok {
			changes.Removed = append(changes.Removed, name)
		}
	}
	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Removed)

	m.skills = found
	m.manifest = next
	if err := next.Save(m.cfg.ManifestPath); err != nil {
		return changes, err
	}

	if !changes.Empty() {
		m.logger.Info("skills scanned",
			"total", len(found),
			"added", len(changes.Added),
			"modified", len(changes.Modified),
			"removed", len(changes.Removed))
	}
	return changes, nil
}

// All returns every known skill sorted by name.
func (m *Manager) All() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	sortSkills(out)
	return out
}

// Enabled returns the skills the model may activate, sorted by name.
func (m *Manager) Enabled() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	sortSkills(out)
	return out
}

// Get returns one skill by name.
func (m *Manager) Get(name string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[name]
	return s, ok
}

// SetDisabled toggles a skill and persists the flag to the manifest.
func (m *Manager) SetDisabled(name string, disabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	skill, ok := m.skills[name]
	if !ok {
		return fmt.Errorf("unknown skill %q", name)
	}
	skill.Disabled = disabled
	m.skills[name] = skill

	entry := m.manifest.Skills[name]
	entry.Disabled = disabled
	if entry.Description == "" {
		entry.Description = skill.Description
		entry.ModTime = skill.ModTime
	}
	m.manifest.Skills[name] = entry
	return m.manifest.Save(m.cfg.ManifestPath)
}

// Watch rescans after markdown files change in either skill directory.
// Events are debounced so an editor save burst triggers one scan.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch skills: %w", err)
	}
	watching := 0
	for _, dir := range []string{m.cfg.UserDir, m.cfg.ProjectDir} {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			m.logger.Debug("cannot watch skills dir", "dir", dir, "error", err)
			continue
		}
		watching++
	}
	if watching == 0 {
		watcher.Close()
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.watcher = watcher
	m.watchCancel = cancel
	m.mu.Unlock()

	m.watchWg.Add(1)
	go m.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if running.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.watchCancel
	watcher := m.watcher
	m.watchCancel = nil
	m.watcher = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	m.watchWg.Wait()
	return err
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.watchWg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.cfg.Debounce, func() {
			if _, err := m.Scan(context.Background()); err != nil {
				m.logger.Warn("rescan after skill change failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watch error", "error", err)
		}
	}
}
