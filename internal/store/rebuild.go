package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/louloulin/agentmem/internal/errors"
)

// RebuildBatchSize is how many memories Rebuild embeds between progress
// reports.
const RebuildBatchSize = 64

// ProgressFunc receives the number of memories indexed so far.
type ProgressFunc func(done, total int)

// RebuildStats describes a finished Rebuild.
type RebuildStats struct {
	Memories int
	Duration time.Duration
}

// Rebuild discards the vector index and re-embeds every memory in
// memories.db. The Bleve index, when configured, is re-indexed as well.
// progress may be nil.
func (b *Backends) Rebuild(ctx context.Context, progress ProgressFunc) (RebuildStats, error) {
	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats RebuildStats
	err := b.withLock(ctx, func() error {
		total, err := b.sqlite.Count(ctx)
		if err != nil {
			return err
		}
		memories, err := b.sqlite.ListMemories(ctx, total)
		if err != nil {
			return err
		}
		total = len(memories)
		report(progress, 0, total)

		stale := b.staleIDs(memories)
		fresh := NewHNSWIndex(HNSWConfig{
			Dimensions: b.opts.Dimensions,
			M:          b.opts.HNSWM,
			EfSearch:   b.opts.HNSWEfSearch,
		})

		// Searches keep reading the live index while fresh fills up.
		for i := 0; i < total; i += RebuildBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(i+RebuildBatchSize, total)
			if err := b.embedInto(ctx, fresh, memories[i:end]); err != nil {
				return err
			}
			report(progress, end, total)
		}
		b.vectors.replaceWith(fresh)

		if b.bleve != nil {
			if err := b.bleve.Delete(ctx, stale); err != nil {
				return err
			}
			if err := b.bleve.Index(ctx, memories); err != nil {
				return errors.New(errors.ErrCodeIndexFailed, "failed to rebuild bleve index", err)
			}
		}

		stats.Memories = total
		return b.persistVectors()
	})
	if err != nil {
		return RebuildStats{}, err
	}

	stats.Duration = time.Since(start)
	b.logger.Info("index_rebuilt",
		slog.Int("memories", stats.Memories),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// staleIDs returns ids in the vector index that memories does not hold.
// Callers hold b.mu.
func (b *Backends) staleIDs(memories []*Memory) []string {
	stored := make(map[string]struct{}, len(memories))
	for _, m := range memories {
		stored[m.ID] = struct{}{}
	}
	var stale []string
	for _, id := range b.vectors.IDs() {
		if _, ok := stored[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

func report(progress ProgressFunc, done, total int) {
	if progress != nil {
		progress(done, total)
	}
}
