package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/louloulin/agentmem/internal/errors"
)

// DefaultWatchDebounce coalesces the burst of WAL writes one Add produces.
const DefaultWatchDebounce = 250 * time.Millisecond

// RefreshResult counts what Refresh changed.
type RefreshResult struct {
	Added   int
	Removed int
}

// Refresh brings the in-process indexes in step with memories.db after
// another process wrote to it. Memories are matched by id; content rewritten
// under an existing id is picked up on the next open.
func (b *Backends) Refresh(ctx context.Context) (RefreshResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total, err := b.sqlite.Count(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	memories, err := b.sqlite.ListMemories(ctx, total)
	if err != nil {
		return RefreshResult{}, err
	}

	stored := make(map[string]struct{}, len(memories))
	var missing []*Memory
	for _, m := range memories {
		stored[m.ID] = struct{}{}
		if !b.vectors.Contains(m.ID) {
			missing = append(missing, m)
		}
	}
	var stale []string
	for _, id := range b.vectors.IDs() {
		if _, ok := stored[id]; !ok {
			stale = append(stale, id)
		}
	}

	res := RefreshResult{Added: len(missing), Removed: len(stale)}
	if res.Added == 0 && res.Removed == 0 {
		return res, nil
	}

	if err := b.indexVectors(ctx, missing); err != nil {
		return RefreshResult{}, err
	}
	if err := b.vectors.Delete(ctx, stale); err != nil {
		return RefreshResult{}, err
	}
	if b.bleve != nil {
		if err := b.bleve.Index(ctx, missing); err != nil {
			return RefreshResult{}, errors.New(errors.ErrCodeIndexFailed, "failed to index memories", err)
		}
		if err := b.bleve.Delete(ctx, stale); err != nil {
			return RefreshResult{}, err
		}
	}

	b.logger.Info("indexes_refreshed",
		slog.Int("added", res.Added),
		slog.Int("removed", res.Removed))
	return res, nil
}

// Watch refreshes the indexes whenever memories.db changes on disk, until
// ctx is canceled. Changes within window of each other trigger one refresh.
func (b *Backends) Watch(ctx context.Context, window time.Duration) error {
	if b.opts.DataDir == "" {
		return fmt.Errorf("watch requires a data directory")
	}
	if window <= 0 {
		window = DefaultWatchDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(b.opts.DataDir); err != nil {
		return fmt.Errorf("watch %s: %w", b.opts.DataDir, err)
	}
	b.logger.Debug("data_dir_watch_started", slog.String("dir", b.opts.DataDir))

	timer := time.NewTimer(window)
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
			if isMemoriesWrite(event) {
				timer.Reset(window)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("data_dir_watch_error", slog.String("error", err.Error()))
		case <-timer.C:
			if _, err := b.Refresh(ctx); err != nil {
				b.logger.Warn("index_refresh_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// isMemoriesWrite matches writes to memories.db and its WAL.
func isMemoriesWrite(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	return name == MemoriesFile || strings.HasPrefix(name, MemoriesFile+"-wal")
}
