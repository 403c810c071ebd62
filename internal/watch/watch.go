// Package watch re-ingests an archive drop directory as files appear.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler is invoked with the drop directory after changes settle.
type Handler func(ctx context.Context, dir string)

// Options configures a watch loop.
type Options struct {
	// Debounce is how long the directory must be quiet before the handler
	// fires. 0 means 2s.
	Debounce time.Duration
	// Logf receives progress lines; nil means fmt.Printf.
	Logf func(format string, args ...any)
}

// Run watches dir for archive files (*.js, *.mbox) and invokes handler
// after each debounced burst of changes. It blocks until ctx is cancelled.
func Run(ctx context.Context, dir string, handler Handler, opts Options) error {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logf("Watching for archive files in %s (debounce: %s)", dir, debounce)

	var debounceTimer *time.Timer
	trigger := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(debounce, func() {
			handler(ctx, dir)
		})
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if isArchiveFile(event.Name) {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf("watch error: %v", err)
		}
	}
}

func isArchiveFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mbox":
		return true
	}
	return false
}
