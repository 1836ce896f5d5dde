package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it is rewritten and hands the new
// value to onChange. The parent directory is watched rather than the file
// itself: editors replace files, which would break a file-level watch.
// Saves that fail to parse or validate are skipped silently; onError (may
// be nil) hears about them.
func Watch(ctx context.Context, path string, onChange func(Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}
