package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/louloulin/agentmem/internal/retrieval"
)

const (
	// MemoryTokenizerName is the registered name of the Tokenize-backed tokenizer.
	MemoryTokenizerName = "memory_tokenizer"

	// MemoryAnalyzerName is the default analyzer of the memory index.
	MemoryAnalyzerName = "memory_analyzer"

	contentField = "content"
)

func init() {
	_ = registry.RegisterTokenizer(MemoryTokenizerName, memoryTokenizerConstructor)
}

// BleveIndex is a BM25 index over memory content.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ retrieval.LexicalSearcher = (*BleveIndex)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

// validateIndexIntegrity reports a missing or unparseable index_meta.json.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// NewBleveIndex opens or creates a Bleve index at path. An empty path keeps
// the index in memory. A corrupted index directory is removed and recreated
// empty; callers rebuild it from the SQLite store.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := newIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("bleve index corrupted at %s and cannot remove: %w", path, removeErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if isCorruptionError(err) {
			slog.Warn("bleve_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("bleve index corrupted, cannot clear: %w", removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open bleve index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(MemoryAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     MemoryTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = MemoryAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces memories in one batch.
func (b *BleveIndex) Index(ctx context.Context, memories []*Memory) error {
	if len(memories) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, m := range memories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(m.ID, bleveDocument{Content: m.Content}); err != nil {
			return fmt.Errorf("index memory %s: %w", m.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

// Search ranks memories by BM25 and hydrates content from stored fields.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]retrieval.SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []retrieval.SearchResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField(contentField)

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.Fields = []string{contentField}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	results := make([]retrieval.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields[contentField].(string)
		results = append(results, retrieval.SearchResult{
			ID:      hit.ID,
			Content: content,
			Score:   hit.Score,
		})
	}
	return results, nil
}

// Delete removes memories from the index. Unknown ids are ignored.
func (b *BleveIndex) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

// Count returns the number of indexed memories.
func (b *BleveIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	return b.index.DocCount()
}

// Close closes the index. It is idempotent.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func memoryTokenizerConstructor(_ map[string]any, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &memoryTokenizer{}, nil
}

// memoryTokenizer adapts Tokenize to bleve, so Bleve and FTS5 agree on
// what a term is.
type memoryTokenizer struct{}

func (t *memoryTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := Tokenize(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, tok := range tokens {
		if offset > len(lower) {
			offset = len(lower)
		}
		start := strings.Index(lower[offset:], tok)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(tok)
		if end > len(text) {
			end = len(text)
		}

		typ := analysis.AlphaNumeric
		if r := []rune(tok); len(r) == 1 && r[0] > 0x2E7F {
			typ = analysis.Ideographic
		}
		stream = append(stream, &analysis.Token{
			Term:     []byte(tok),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     typ,
		})
		offset = end
	}
	return stream
}
