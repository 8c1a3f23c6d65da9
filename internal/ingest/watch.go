package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc receives the accepted files that changed since the last call, in
// lexical order. Removed files are included.
type ChangeFunc func(ctx context.Context, paths []string) error

// Watcher reports changes to source files in a directory, coalescing bursts of
// events into one callback.
type Watcher struct {
	service  *Service
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(service *Service, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{service: service, debounce: debounce, logger: logger}
}

// Watch blocks until ctx is done or the underlying watcher fails.
func (w *Watcher) Watch(ctx context.Context, dir string, onChange ChangeFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.InfoContext(ctx, "watching source directory", slog.String("dir", dir))

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "file watcher error", slog.Any("error", err))
		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			pending = make(map[string]struct{})
			sort.Strings(paths)
			if err := onChange(ctx, paths); err != nil {
				w.logger.ErrorContext(ctx, "source change handler failed", slog.Any("error", err), slog.Int("files", len(paths)))
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !w.service.Accepts(event.Name) {
		return false
	}
	if base := filepath.Base(event.Name); len(base) > 0 && base[0] == '.' {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// Existing filters paths down to the files that are still present.
func Existing(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out = append(out, path)
		}
	}
	return out
}
