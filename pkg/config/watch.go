package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

// CaptureConfig converts the loaded settings into the capture
// pipeline's configuration snapshot.
func (c CaptureSettings) CaptureConfig() audit.CaptureConfig {
	cfg := audit.CaptureConfig{
		Enabled:             c.Enabled,
		ExcludedFields:      toSet(c.ExcludedFields),
		ExcludeContentTypes: toSet(c.ExcludeContentTypes),
		Actions:             make(map[audit.Action]struct{}, len(c.Actions)),
		WriteTimeout:        c.WriteTimeout,
		MaxRetries:          c.MaxRetries,
		RetryBackoff:        c.RetryBackoff,
	}
	for _, a := range c.Actions {
		action := audit.Action(a)
		if action.Valid() {
			cfg.Actions[action] = struct{}{}
		}
	}
	return cfg
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// captureFile is the on-disk override shape for the capture watcher.
type captureFile struct {
	Enabled             *bool    `json:"enabled"`
	ExcludedFields      []string `json:"excludedFields"`
	ExcludeContentTypes []string `json:"excludeContentTypes"`
	Actions             []string `json:"actions"`
}

// CaptureWatcher hot-reloads capture settings from a JSON file. The
// current snapshot is swapped atomically, so captures in flight keep
// the configuration they started with.
type CaptureWatcher struct {
	base    CaptureSettings
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	current atomic.Value // audit.CaptureConfig
	done    chan struct{}
}

// NewCaptureWatcher loads the file at path (which must exist) over the
// base settings and begins watching it for changes.
func NewCaptureWatcher(base CaptureSettings, path string, logger *observability.Logger) (*CaptureWatcher, error) {
	w := &CaptureWatcher{
		base:   base,
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := w.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory rather than the file: editors and config
	// mounts replace the file, which would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w.watcher = watcher

	go w.run()
	return w, nil
}

// Source returns the config source for the capture pipeline.
func (w *CaptureWatcher) Source() audit.ConfigSource {
	return func() audit.CaptureConfig {
		return w.current.Load().(audit.CaptureConfig)
	}
}

// Close stops watching.
func (w *CaptureWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *CaptureWatcher) run() {
	// Debounce: editors fire several events per save.
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(100 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("capture config watcher error")
		case <-pending:
			pending = nil
			if err := w.reload(); err != nil {
				w.logger.WithError(err).Error("capture config reload failed, keeping previous settings")
				continue
			}
			w.logger.WithField("path", w.path).Info("capture config reloaded")
		}
	}
}

func (w *CaptureWatcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read capture config: %w", err)
	}

	var file captureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse capture config: %w", err)
	}

	settings := w.base
	if file.Enabled != nil {
		settings.Enabled = *file.Enabled
	}
	if file.ExcludedFields != nil {
		settings.ExcludedFields = file.ExcludedFields
	}
	if file.ExcludeContentTypes != nil {
		settings.ExcludeContentTypes = file.ExcludeContentTypes
	}
	if file.Actions != nil {
		settings.Actions = file.Actions
	}

	w.current.Store(settings.CaptureConfig())
	return nil
}
