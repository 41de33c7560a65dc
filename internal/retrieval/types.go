// Package retrieval implements adaptive hybrid retrieval over agent memories.
//
// A query is classified into a QueryType, which selects a SearchStrategy
// (which backends to use and how to weight them). The strategy's similarity
// cutoff is then adapted to the query's shape and to the scores recent
// searches of the same type produced. Vector and lexical rankings are merged
// with Reciprocal Rank Fusion.
package retrieval

import "context"

// QueryType is the coarse category assigned to a query.
type QueryType string

const (
	// QueryTypeExactID is a single opaque identifier such as "P000001".
	QueryTypeExactID QueryType = "exact_id"

	// QueryTypeShortKeyword is one or two short terms.
	QueryTypeShortKeyword QueryType = "short_keyword"

	// QueryTypeNaturalLanguage is a plain multi-word phrase.
	QueryTypeNaturalLanguage QueryType = "natural_language"

	// QueryTypeSemantic is a long or question-form query.
	QueryTypeSemantic QueryType = "semantic"

	// QueryTypeTemporal refers to dates or relative time.
	QueryTypeTemporal QueryType = "temporal"
)

// AllQueryTypes lists every QueryType in classification precedence order.
var AllQueryTypes = []QueryType{
	QueryTypeExactID,
	QueryTypeTemporal,
	QueryTypeShortKeyword,
	QueryTypeSemantic,
	QueryTypeNaturalLanguage,
}

// Valid reports whether qt is one of the known query types.
func (qt QueryType) Valid() bool {
	for _, t := range AllQueryTypes {
		if t == qt {
			return true
		}
	}
	return false
}

// SearchStrategy is the per-query search plan. It is a value type; callers
// that adapt the threshold work on their own copy.
type SearchStrategy struct {
	UseExactMatch bool    `json:"use_exact_match"`
	UseVector     bool    `json:"use_vector"`
	UseBM25       bool    `json:"use_bm25"`
	VectorWeight  float64 `json:"vector_weight"`
	BM25Weight    float64 `json:"bm25_weight"`
	Threshold     float64 `json:"threshold"`
}

// SearchResult is one scored memory.
//
// Score is the score the caller should rank by: the fused RRF score after
// hybrid search, or the matcher's own score after an exact-match hit.
// VectorScore and FulltextScore keep the raw backend scores when the
// document came from that backend.
type SearchResult struct {
	ID            string   `json:"id"`
	Content       string   `json:"content"`
	Score         float64  `json:"score"`
	VectorScore   *float64 `json:"vector_score,omitempty"`
	FulltextScore *float64 `json:"fulltext_score,omitempty"`
}

// VectorSearcher ranks memories by embedding similarity. Implementations
// should drop hits whose similarity is below threshold.
type VectorSearcher interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]SearchResult, error)
}

// LexicalSearcher ranks memories by BM25 full-text relevance.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// ExactMatcher returns memories that match the query verbatim, typically by ID.
type ExactMatcher interface {
	MatchExact(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearchResponse is returned by Engine.Search.
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	QueryType QueryType      `json:"query_type"`
	Strategy  SearchStrategy `json:"strategy"`

	// Threshold is the computation behind Strategy.Threshold. It is nil
	// when adaptive thresholds are off.
	Threshold *ThresholdBreakdown `json:"threshold,omitempty"`
	Stats     SearchStats         `json:"stats"`
}
