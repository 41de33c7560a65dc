package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts calls to the inner embedder.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchSizes []int
	err        error
}

func (m *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return []float32{float32(len(text))}, nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchSizes = append(m.batchSizes, len(texts))
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int  { return 1 }
func (m *countingEmbedder) ModelName() string { return "counting" }
func (m *countingEmbedder) Close() error      { return nil }

func TestCachedEmbedder_EmbedHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)

	v1, err := c.Embed(context.Background(), "coffee")
	require.NoError(t, err)
	v2, err := c.Embed(context.Background(), "coffee")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCachedEmbedder_BatchOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)
	_, _ = c.Embed(context.Background(), "a")

	got, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, got)
	assert.Equal(t, []int{2}, inner.batchSizes)
	assert.Equal(t, 3, c.Len())
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("model unavailable")}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)

	assert.Equal(t, int64(2), inner.embedCalls.Load())
	assert.Zero(t, c.Len())
}

func TestCachedEmbedder_Evicts(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 2)

	for _, s := range []string{"a", "b", "c"} {
		_, _ = c.Embed(context.Background(), s)
	}
	assert.Equal(t, 2, c.Len())

	_, _ = c.Embed(context.Background(), "a")
	assert.Equal(t, int64(4), inner.embedCalls.Load())
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	c := NewCachedEmbedder(NewStaticEmbedder(32), 0)
	assert.Equal(t, 32, c.Dimensions())
	assert.Equal(t, "static-32", c.ModelName())
	assert.NoError(t, c.Close())
}
