package store

import (
	"context"
	"fmt"

	"github.com/louloulin/agentmem/internal/embed"
	"github.com/louloulin/agentmem/internal/retrieval"
)

// MemoryLookup resolves memory ids to stored memories.
type MemoryLookup interface {
	GetMemories(ctx context.Context, ids []string) (map[string]*Memory, error)
}

// VectorSearcher embeds the query and searches the HNSW index, hydrating
// content from the memory store.
type VectorSearcher struct {
	embedder embed.Embedder
	index    *HNSWIndex
	lookup   MemoryLookup
}

var _ retrieval.VectorSearcher = (*VectorSearcher)(nil)

// NewVectorSearcher wires an embedder, index and lookup together.
func NewVectorSearcher(embedder embed.Embedder, index *HNSWIndex, lookup MemoryLookup) *VectorSearcher {
	return &VectorSearcher{embedder: embedder, index: index, lookup: lookup}
}

// Search returns up to limit memories whose cosine similarity to query is
// at least threshold.
func (v *VectorSearcher) Search(ctx context.Context, query string, limit int, threshold float64) ([]retrieval.SearchResult, error) {
	if limit <= 0 {
		return []retrieval.SearchResult{}, nil
	}

	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := v.index.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return []retrieval.SearchResult{}, nil
	}

	memories, err := v.lookup.GetMemories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate vector hits: %w", err)
	}

	results := make([]retrieval.SearchResult, 0, len(ids))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		m, ok := memories[h.ID]
		if !ok {
			// Vector outlived its memory row.
			continue
		}
		results = append(results, m.Result(h.Score))
	}
	return results, nil
}
