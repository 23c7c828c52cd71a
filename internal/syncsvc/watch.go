// Provides the debounced refresh on changes to pacman's local database.

package syncsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch refreshes the cache whenever dir changes, waiting for debounce of
// quiet time after the last change. pacman touches many files per
// transaction; one refresh follows each burst.
//
// It blocks until ctx is done and then returns ctx.Err(). Refresh failures are
// logged and do not stop the watch.
func (s *Service) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.InfoContext(ctx, "syncsvc: watching", "dir", dir, "debounce", debounce)

	fire := make(chan struct{}, 1)
	timer := time.AfterFunc(debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			slog.DebugContext(ctx, "syncsvc: change", "path", event.Name, "op", event.Op.String())
			timer.Reset(debounce)
		case <-fire:
			if _, err := s.Refresh(ctx); err != nil {
				slog.ErrorContext(ctx, "syncsvc: refresh failed", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "syncsvc: watch error", "err", err)
		}
	}
}
