package config

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the reloaded configuration each time path is
// written, until ctx is cancelled. A file that fails to load is logged and
// skipped.
func Watch(ctx context.Context, path string, onChange func(*Configuration)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	log.Printf("watching %s for changes", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// atomic saves show up as create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Printf("config reload failed, keeping previous: %s", err.Error())
				continue
			}
			log.Printf("config %s reloaded", path)
			onChange(cfg)

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config watcher error: %s", err.Error())
		}
	}
}
