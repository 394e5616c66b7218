package modes

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch watches dir for mode YAML edits and re-registers the affected
// mode on every write/create event, so operators can tune a custom mode's
// prompts without restarting the daemon. It blocks until ctx is canceled
// or the watcher fails to start.
func Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m, err := LoadFile(event.Name)
			if err != nil {
				slog.Warn("modes: reload failed", "path", event.Name, "error", err)
				continue
			}
			Register(m)
			slog.Info("modes: reloaded", "mode", m.Name, "path", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("modes: watch error", "error", err)
		}
	}
}
