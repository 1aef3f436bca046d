// Package catalog loads the sources catalogue file and keeps the store in
// sync with it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"notice_hub/internal/model"
)

const reloadDelay = 250 * time.Millisecond

// Store is the subset of storage used by the catalogue.
type Store interface {
	UpsertSource(ctx context.Context, src *model.Source) error
}

// File is the on-disk layout of the catalogue.
type File struct {
	Sources []Entry `yaml:"sources"`
}

// Entry describes one source in the catalogue.
type Entry struct {
	Name                string `yaml:"name"`
	URL                 string `yaml:"url"`
	Kind                string `yaml:"kind"`
	TrustLevel          int    `yaml:"trust_level"`
	PollIntervalMinutes int    `yaml:"poll_interval_minutes"`
	Active              *bool  `yaml:"active"`
}

// Source converts the entry into a model.Source. Entries without an explicit
// active flag are active.
func (e Entry) Source() model.Source {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return model.Source{
		Name:                e.Name,
		URL:                 e.URL,
		Kind:                model.SourceKind(e.Kind),
		TrustLevel:          e.TrustLevel,
		PollIntervalMinutes: e.PollIntervalMinutes,
		IsActive:            active,
	}
}

func (e Entry) validate() error {
	if e.URL == "" {
		return errors.New("url is required")
	}
	if !model.SourceKind(e.Kind).Valid() {
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.TrustLevel < model.MinTrustLevel || e.TrustLevel > model.MaxTrustLevel {
		return fmt.Errorf("trust_level %d out of range %d-%d", e.TrustLevel, model.MinTrustLevel, model.MaxTrustLevel)
	}
	if e.PollIntervalMinutes < 1 {
		return fmt.Errorf("poll_interval_minutes must be at least 1, got %d", e.PollIntervalMinutes)
	}
	return nil
}

// Parse decodes and validates a catalogue document.
func Parse(data []byte) ([]model.Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	sources := make([]model.Source, 0, len(f.Sources))
	for i, e := range f.Sources {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("source %d (%s): %w", i+1, e.Name, err)
		}
		if seen[e.URL] {
			return nil, fmt.Errorf("source %d (%s): duplicate url %s", i+1, e.Name, e.URL)
		}
		seen[e.URL] = true
		sources = append(sources, e.Source())
	}
	return sources, nil
}

// Load reads and validates the catalogue at path.
func Load(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Parse(data)
}

// Sync upserts every catalogue source into the store and returns how many
// were written. Sources missing from the file are left untouched.
func Sync(ctx context.Context, store Store, path string) (int, error) {
	sources, err := Load(path)
	if err != nil {
		return 0, err
	}
	for i := range sources {
		if err := store.UpsertSource(ctx, &sources[i]); err != nil {
			return i, fmt.Errorf("upsert source %s: %w", sources[i].URL, err)
		}
	}
	return len(sources), nil
}

// Watch re-syncs the catalogue whenever the file changes, until ctx is done.
// Bursts of events are coalesced into one reload.
func Watch(ctx context.Context, store Store, path string, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		n, err := Sync(ctx, store, path)
		if err != nil {
			log.Warn("catalogue reload failed", "path", path, "error", err)
			return
		}
		log.Info("catalogue reloaded", "path", path, "sources", n)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	log.Debug("catalogue watcher started", "path", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			log.Warn("catalogue watch error", "path", path, "error", err)
		}
	}
}
