package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period Watch waits for before calling back.
const DefaultDebounce = 500 * time.Millisecond

// Watch calls onChange whenever a manifest file under paths is written,
// created, renamed or removed, after changes have been quiet for debounce.
// Calls never overlap. Watch blocks until ctx is done.
//
// Editors often replace files instead of writing them in place, so the
// parent directory of every file is watched rather than the file.
func Watch(ctx context.Context, paths []string, debounce time.Duration, logger zerolog.Logger, onChange func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Named files match exactly; directories match any manifest below them.
	files := make(map[string]bool)
	var dirs []string
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			if err := watchTree(watcher, abs); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			dirs = append(dirs, abs)
			continue
		}
		files[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	logger.Info().Strs("paths", paths).Dur("debounce", debounce).Msg("Watching manifests")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && len(dirs) > 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchTree(watcher, event.Name)
				}
			}
			if !relevant(event, files, dirs) {
				continue
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Manifest changed")
			timer.Reset(debounce)

		case <-timer.C:
			onChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func relevant(event fsnotify.Event, files map[string]bool, dirs []string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if files[name] {
		return true
	}
	if _, ok := FormatOf(name); !ok {
		return false
	}
	for _, dir := range dirs {
		if rel, err := filepath.Rel(dir, name); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
