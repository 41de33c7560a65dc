package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/louloulin/agentmem/internal/embed"
	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/retrieval"
)

// LexicalBackend selects the BM25 implementation.
type LexicalBackend string

const (
	// LexicalSQLite uses the FTS5 table inside memories.db. Safe for
	// concurrent processes through WAL.
	LexicalSQLite LexicalBackend = "sqlite"

	// LexicalBleve uses a separate Bleve index. Bolt holds an exclusive
	// file lock, so only one process can open it.
	LexicalBleve LexicalBackend = "bleve"
)

// Valid reports whether b names a known backend.
func (b LexicalBackend) Valid() bool {
	return b == LexicalSQLite || b == LexicalBleve
}

// File names inside the data directory.
const (
	MemoriesFile = "memories.db"
	VectorsFile  = "vectors.hnsw"
	BleveDir     = "bm25.bleve"
)

// Options configures OpenBackends.
type Options struct {
	// DataDir holds every file. Empty keeps everything in memory.
	DataDir        string
	LexicalBackend LexicalBackend
	Dimensions     int
	HNSWM          int
	HNSWEfSearch   int
	EmbedCacheSize int
	Retry          errors.RetryConfig
	Logger         *slog.Logger
}

// Backends owns the memory store and its indexes and keeps them in step.
type Backends struct {
	// mu serializes index writes within the process; lock does the same
	// across processes.
	mu sync.Mutex

	opts     Options
	logger   *slog.Logger
	sqlite   *SQLiteStore
	bleve    *BleveIndex
	vectors  *HNSWIndex
	embedder embed.Embedder
	vector   *VectorSearcher
	lock     *DataDirLock
}

// OpenBackends opens or creates all stores under opts.DataDir. Indexes that
// are missing or out of step with memories.db are rebuilt from it.
func OpenBackends(ctx context.Context, opts Options) (*Backends, error) {
	if opts.LexicalBackend == "" {
		opts.LexicalBackend = LexicalSQLite
	}
	if !opts.LexicalBackend.Valid() {
		return nil, errors.ConfigError(fmt.Sprintf("unknown lexical backend %q", opts.LexicalBackend), nil).
			WithSuggestion("Use one of: sqlite, bleve")
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = embed.DefaultDimensions
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = errors.DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backends{
		opts:     opts,
		logger:   logger,
		embedder: embed.NewCachedEmbedder(embed.NewStaticEmbedder(opts.Dimensions), opts.EmbedCacheSize),
		vectors: NewHNSWIndex(HNSWConfig{
			Dimensions: opts.Dimensions,
			M:          opts.HNSWM,
			EfSearch:   opts.HNSWEfSearch,
		}),
	}

	var err error
	b.sqlite, err = NewSQLiteStore(b.path(MemoriesFile))
	if err != nil {
		return nil, err
	}
	b.sqlite.SetLogger(logger)

	if opts.LexicalBackend == LexicalBleve {
		b.bleve, err = NewBleveIndex(b.path(BleveDir))
		if err != nil {
			_ = b.sqlite.Close()
			return nil, errors.New(errors.ErrCodeIndexFailed, "failed to open bleve index", err)
		}
	}

	if opts.DataDir != "" {
		b.lock = NewDataDirLock(opts.DataDir)
		if err := b.loadVectors(); err != nil {
			logger.Warn("vector_index_load_failed", slog.String("error", err.Error()))
		}
		if err := b.reconcile(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
	}

	b.vector = NewVectorSearcher(b.embedder, b.vectors, b.sqlite)
	return b, nil
}

func (b *Backends) path(name string) string {
	if b.opts.DataDir == "" {
		return ""
	}
	return filepath.Join(b.opts.DataDir, name)
}

func (b *Backends) loadVectors() error {
	path := b.path(VectorsFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return b.vectors.Load(path)
}

// reconcile rebuilds the vector and Bleve indexes when their counts
// disagree with memories.db.
func (b *Backends) reconcile(ctx context.Context) error {
	total, err := b.sqlite.Count(ctx)
	if err != nil {
		return err
	}

	vectorsStale := b.vectors.Count() != total
	bleveStale := false
	if b.bleve != nil {
		n, err := b.bleve.Count()
		if err != nil {
			return err
		}
		bleveStale = int(n) != total
	}
	if !vectorsStale && !bleveStale {
		return nil
	}

	b.logger.Info("index_rebuild_started",
		slog.Int("memories", total),
		slog.Bool("vectors", vectorsStale),
		slog.Bool("bleve", bleveStale))

	memories, err := b.sqlite.ListMemories(ctx, total)
	if err != nil {
		return err
	}
	if vectorsStale {
		b.vectors = NewHNSWIndex(HNSWConfig{
			Dimensions: b.opts.Dimensions,
			M:          b.opts.HNSWM,
			EfSearch:   b.opts.HNSWEfSearch,
		})
		if err := b.indexVectors(ctx, memories); err != nil {
			return err
		}
		if err := b.persistVectors(); err != nil {
			b.logger.Warn("vector_index_save_failed", slog.String("error", err.Error()))
		}
	}
	if bleveStale {
		if err := b.bleve.Index(ctx, memories); err != nil {
			return errors.New(errors.ErrCodeIndexFailed, "failed to rebuild bleve index", err)
		}
	}
	return nil
}

func (b *Backends) indexVectors(ctx context.Context, memories []*Memory) error {
	return b.embedInto(ctx, b.vectors, memories)
}

// embedInto embeds memories and adds them to idx.
func (b *Backends) embedInto(ctx context.Context, idx *HNSWIndex, memories []*Memory) error {
	if len(memories) == 0 {
		return nil
	}
	texts := make([]string, len(memories))
	ids := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.Content
		ids[i] = m.ID
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return errors.New(errors.ErrCodeEmbeddingFailed, "failed to embed memories", err)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to index vectors", err)
	}
	return nil
}

// Add stores memories and indexes them in every backend.
func (b *Backends) Add(ctx context.Context, memories []*Memory) error {
	if len(memories) == 0 {
		return nil
	}
	for _, m := range memories {
		if strings.TrimSpace(m.Content) == "" {
			return errors.ValidationError("memory content is empty", nil).WithDetail("id", m.ID)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withLock(ctx, func() error {
		if err := b.sqlite.SaveMemories(ctx, memories); err != nil {
			return err
		}
		if b.bleve != nil {
			if err := b.bleve.Index(ctx, memories); err != nil {
				return errors.New(errors.ErrCodeIndexFailed, "failed to index memories", err)
			}
		}
		if err := b.indexVectors(ctx, memories); err != nil {
			return err
		}
		return b.persistVectors()
	})
}

// Delete removes memories from every backend.
func (b *Backends) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withLock(ctx, func() error {
		if err := b.sqlite.DeleteMemories(ctx, ids); err != nil {
			return err
		}
		if b.bleve != nil {
			if err := b.bleve.Delete(ctx, ids); err != nil {
				return err
			}
		}
		if err := b.vectors.Delete(ctx, ids); err != nil {
			return err
		}
		return b.persistVectors()
	})
}

func (b *Backends) withLock(ctx context.Context, fn func() error) error {
	if b.lock == nil {
		return fn()
	}
	if err := b.lock.Lock(ctx, b.opts.Retry); err != nil {
		return err
	}
	defer func() {
		if err := b.lock.Unlock(); err != nil {
			b.logger.Warn("data_dir_unlock_failed", slog.String("error", err.Error()))
		}
	}()
	return fn()
}

func (b *Backends) persistVectors() error {
	path := b.path(VectorsFile)
	if path == "" {
		return nil
	}
	if err := b.vectors.Save(path); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to save vector index", err)
	}
	return nil
}

// Get returns one memory by id.
func (b *Backends) Get(ctx context.Context, id string) (*Memory, error) {
	return b.sqlite.GetMemory(ctx, id)
}

// Count returns the number of stored memories.
func (b *Backends) Count(ctx context.Context) (int, error) {
	return b.sqlite.Count(ctx)
}

// IndexHealth describes how the indexes line up with memories.db.
type IndexHealth struct {
	Memories       int
	Vectors        int
	Orphans        int
	Dimensions     int
	LexicalBackend LexicalBackend
}

// Health counts memories and index entries.
func (b *Backends) Health(ctx context.Context) (IndexHealth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.sqlite.Count(ctx)
	if err != nil {
		return IndexHealth{}, err
	}
	return IndexHealth{
		Memories:       n,
		Vectors:        b.vectors.Count(),
		Orphans:        b.vectors.Orphans(),
		Dimensions:     b.vectors.Dimensions(),
		LexicalBackend: b.opts.LexicalBackend,
	}, nil
}

// VectorSearcher returns the embedding-backed searcher.
func (b *Backends) VectorSearcher() retrieval.VectorSearcher {
	return b.vector
}

// LexicalSearcher returns the configured BM25 searcher.
func (b *Backends) LexicalSearcher() retrieval.LexicalSearcher {
	if b.bleve != nil {
		return b.bleve
	}
	return b.sqlite
}

// ExactMatcher returns the id and verbatim-content matcher.
func (b *Backends) ExactMatcher() retrieval.ExactMatcher {
	return b.sqlite
}

// EngineOptions wires all three searchers into a retrieval engine.
func (b *Backends) EngineOptions() []retrieval.EngineOption {
	return []retrieval.EngineOption{
		retrieval.WithVectorSearcher(b.VectorSearcher()),
		retrieval.WithLexicalSearcher(b.LexicalSearcher()),
		retrieval.WithExactMatcher(b.ExactMatcher()),
	}
}

// Close closes every backend and returns the first error.
func (b *Backends) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if b.bleve != nil {
		keep(b.bleve.Close())
	}
	keep(b.vectors.Close())
	keep(b.embedder.Close())
	keep(b.sqlite.Close())
	return first
}
