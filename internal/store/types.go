// Package store persists agent memories and provides the searchers the
// retrieval engine dispatches to: a SQLite table with FTS5 for exact and
// lexical lookup, a Bleve BM25 index, and an HNSW vector index.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/louloulin/agentmem/internal/retrieval"
)

// ErrClosed is returned by any store used after Close.
var ErrClosed = errors.New("store is closed")

// Memory is one stored fact about the user or the agent's world.
type Memory struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewMemoryID creates an ID for memories added without one: "mem_" and the
// first half of a random UUID.
func NewMemoryID() string {
	u := uuid.New()
	return "mem_" + hex.EncodeToString(u[:8])
}

// Result converts m into a search result with the given score.
func (m *Memory) Result(score float64) retrieval.SearchResult {
	return retrieval.SearchResult{ID: m.ID, Content: m.Content, Score: score}
}

// ErrDimensionMismatch is returned when a vector has the wrong width.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "it": {}, "this": {}, "that": {},
	"的": {}, "了": {}, "是": {},
}

// Tokenize lower-cases text into search terms for the FTS5 index. Han
// characters become single-rune terms; stop words are dropped.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		term := current.String()
		current.Reset()
		if _, stop := stopWords[term]; !stop {
			tokens = append(tokens, term)
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			current.WriteRune(r)
			flush()
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
