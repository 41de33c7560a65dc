package retrieval

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Classification boundaries, measured in runes and whitespace tokens.
const (
	MaxExactIDLength      = 32
	ShortKeywordMaxWords  = 2
	ShortKeywordMaxLength = 20
	SemanticMinLength     = 50

	DefaultClassifierCacheSize = 10000
)

// DefaultStrategy returns the search plan for a query type. Unknown types
// get the natural-language plan.
func DefaultStrategy(qt QueryType) SearchStrategy {
	switch qt {
	case QueryTypeExactID, QueryTypeTemporal:
		return SearchStrategy{UseExactMatch: true}
	case QueryTypeShortKeyword:
		return SearchStrategy{UseVector: true, UseBM25: true, VectorWeight: 0.3, BM25Weight: 0.7, Threshold: 0.1}
	case QueryTypeSemantic:
		return SearchStrategy{UseVector: true, UseBM25: true, VectorWeight: 0.8, BM25Weight: 0.2, Threshold: 0.5}
	default:
		return SearchStrategy{UseVector: true, UseBM25: true, VectorWeight: 0.5, BM25Weight: 0.5, Threshold: 0.3}
	}
}

type classifierKey struct {
	query    string
	features QueryFeatures
}

// Classifier assigns a QueryType by rule precedence. Results are cached;
// classification is pure, so a cached answer is always the computed one.
type Classifier struct {
	cache *lru.Cache[classifierKey, QueryType]
}

// NewClassifier creates a classifier with an LRU of cacheSize entries.
// A non-positive size uses DefaultClassifierCacheSize.
func NewClassifier(cacheSize int) *Classifier {
	if cacheSize <= 0 {
		cacheSize = DefaultClassifierCacheSize
	}
	cache, _ := lru.New[classifierKey, QueryType](cacheSize)
	return &Classifier{cache: cache}
}

// Classify returns the query type and its default strategy. It never fails.
// features must come from ExtractFeatures(query).
//
// Precedence, first match wins:
//  1. exact_id: one token of [A-Za-z0-9_-], at most 32 runes, with a digit
//  2. temporal: dates or relative-time vocabulary
//  3. short_keyword: at most 2 words and under 20 runes
//  4. semantic: over 50 runes or phrased as a question
//  5. natural_language
func (c *Classifier) Classify(query string, features QueryFeatures) (QueryType, SearchStrategy) {
	key := classifierKey{query: query, features: features}
	if qt, ok := c.cache.Get(key); ok {
		return qt, DefaultStrategy(qt)
	}

	qt := classify(query, features)
	c.cache.Add(key, qt)
	return qt, DefaultStrategy(qt)
}

func classify(query string, f QueryFeatures) QueryType {
	trimmed := strings.TrimSpace(query)

	switch {
	case f.WordCount == 1 && f.Length <= MaxExactIDLength && isExactID(trimmed):
		return QueryTypeExactID
	case isTemporal(trimmed):
		return QueryTypeTemporal
	case f.WordCount <= ShortKeywordMaxWords && f.Length < ShortKeywordMaxLength:
		return QueryTypeShortKeyword
	case f.Length > SemanticMinLength || f.IsQuestion:
		return QueryTypeSemantic
	default:
		return QueryTypeNaturalLanguage
	}
}
