package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RuleSpec is a declarative rule, as found in config seeds and rules files.
type RuleSpec struct {
	Keyword  string `yaml:"keyword"`
	Priority string `yaml:"priority"`
	Sound    *bool  `yaml:"sound,omitempty"`
}

type rulesDocument struct {
	Rules []RuleSpec `yaml:"rules"`
}

// SyncResult counts what a Sync changed.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Seed adds specs that are not registered yet. Existing keywords are left
// alone.
func (r *Registry) Seed(specs []RuleSpec) (int, error) {
	added := 0
	for _, spec := range specs {
		p, err := ParsePriority(spec.Priority)
		if err != nil {
			return added, fmt.Errorf("seed %q: %w", spec.Keyword, err)
		}
		_, err = r.add(spec.Keyword, p, soundOrDefault(spec.Sound), OriginSeed)
		switch {
		case errors.Is(err, ErrDuplicateKeyword):
			continue
		case err != nil:
			return added, fmt.Errorf("seed %q: %w", spec.Keyword, err)
		}
		added++
	}
	return added, nil
}

// Sync makes the file-origin rules match specs: missing keywords are added,
// changed priority or sound flags are applied, and file-origin rules no
// longer listed are removed. Rules from other origins are only updated when
// the file names their keyword.
func (r *Registry) Sync(specs []RuleSpec) (SyncResult, error) {
	var res SyncResult

	type wanted struct {
		priority Priority
		sound    bool
	}
	want := make(map[string]wanted, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		kw := strings.TrimSpace(spec.Keyword)
		if kw == "" {
			return res, fmt.Errorf("sync: %w", ErrEmptyKeyword)
		}
		p, err := ParsePriority(spec.Priority)
		if err != nil {
			return res, fmt.Errorf("sync %q: %w", kw, err)
		}
		key := strings.ToLower(kw)
		if _, dup := want[key]; dup {
			return res, fmt.Errorf("sync %q: %w", kw, ErrDuplicateKeyword)
		}
		want[key] = wanted{priority: p, sound: soundOrDefault(spec.Sound)}
		order = append(order, kw)
	}

	for _, rule := range r.List() {
		if rule.Origin != OriginFile {
			continue
		}
		if _, keep := want[strings.ToLower(rule.Keyword)]; keep {
			continue
		}
		if err := r.Remove(rule.ID); err != nil && !errors.Is(err, ErrRuleNotFound) {
			return res, err
		}
		res.Removed++
	}

	for _, kw := range order {
		w := want[strings.ToLower(kw)]
		existing, ok := r.snapshot().byKeyword(kw)
		if !ok {
			if _, err := r.add(kw, w.priority, w.sound, OriginFile); err != nil {
				return res, fmt.Errorf("sync %q: %w", kw, err)
			}
			res.Added++
			continue
		}
		if existing.Priority == w.priority && existing.SoundEnabled == w.sound {
			continue
		}
		_, err := r.update(existing.ID, func(rule *Rule) {
			rule.Priority = w.priority
			rule.SoundEnabled = w.sound
		})
		if err != nil {
			return res, fmt.Errorf("sync %q: %w", kw, err)
		}
		res.Updated++
	}
	return res, nil
}

func soundOrDefault(sound *bool) bool {
	if sound == nil {
		return true
	}
	return *sound
}

// LoadRulesFile reads a YAML rules file of the form
//
//	rules:
//	  - keyword: decisão
//	    priority: high
//	    sound: true
func LoadRulesFile(path string) ([]RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return doc.Rules, nil
}

// RulesWatcher keeps a registry in sync with a rules file.
type RulesWatcher struct {
	registry *Registry
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewRulesWatcher creates a watcher for path.
func NewRulesWatcher(registry *Registry, path string, logger *slog.Logger) *RulesWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesWatcher{
		registry: registry,
		path:     filepath.Clean(path),
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}
}

// Reload reads the file and syncs the registry with it.
func (w *RulesWatcher) Reload() (SyncResult, error) {
	specs, err := LoadRulesFile(w.path)
	if err != nil {
		return SyncResult{}, err
	}
	res, err := w.registry.Sync(specs)
	if err != nil {
		return res, err
	}
	w.logger.Info("Alert rules file synced",
		slog.String("path", w.path),
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
	)
	return res, nil
}

// Run loads the file once and then reloads it on every change until ctx is
// cancelled. Reload errors after the first load are logged and the previous
// rules stay in place.
func (w *RulesWatcher) Run(ctx context.Context) error {
	if _, err := w.Reload(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic saves (write temp file, rename) are seen.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(w.debounce)

		case <-debounce:
			debounce = nil
			if _, err := os.Stat(w.path); err != nil {
				continue
			}
			if _, err := w.Reload(); err != nil {
				w.logger.Warn("Failed to reload alert rules file",
					slog.String("path", w.path),
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Alert rules watcher error", slog.String("error", err.Error()))
		}
	}
}
