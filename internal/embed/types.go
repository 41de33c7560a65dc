// Package embed turns memory text into dense vectors for the vector index.
package embed

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/viterin/vek/vek32"
)

// DefaultDimensions is the vector width of the static embedder.
const DefaultDimensions = 256

// ErrClosed is returned by embedders after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the length of every returned vector.
	Dimensions() int

	// ModelName identifies the embedding space; vectors from different
	// models must not share an index.
	ModelName() string

	Close() error
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	sumSquares := vek32.Dot(v, v)
	if sumSquares == 0 {
		return v
	}
	normalized := slices.Clone(v)
	vek32.MulNumber_Inplace(normalized, float32(1/math.Sqrt(float64(sumSquares))))
	return normalized
}
