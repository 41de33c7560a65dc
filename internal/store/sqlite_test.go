package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/agentmem/internal/errors"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMemories() []*Memory {
	return []*Memory{
		{ID: "m1", Content: "Alice prefers oat milk in her coffee"},
		{ID: "m2", Content: "The quarterly planning meeting is on Friday"},
		{ID: "m3", Content: "Bob is allergic to peanuts", Metadata: map[string]string{"source": "chat"}},
		{ID: "ORD-1234", Content: "Order shipped to Berlin office"},
	}
}

// =============================================================================
// CRUD
// =============================================================================

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	m, err := s.GetMemory(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, "Bob is allergic to peanuts", m.Content)
	assert.Equal(t, map[string]string{"source": "chat"}, m.Metadata)
	assert.False(t, m.CreatedAt.IsZero())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetMemory(context.Background(), "nope")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMemoryMissing, errors.GetCode(err))
}

func TestSQLiteStore_SaveReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, []*Memory{{ID: "m1", Content: "tea"}}))

	require.NoError(t, s.SaveMemories(ctx, []*Memory{{ID: "m1", Content: "espresso"}}))

	m, err := s.GetMemory(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "espresso", m.Content)

	// Old FTS row is gone.
	hits, err := s.Search(ctx, "tea", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteStore_SaveRejectsEmptyID(t *testing.T) {
	s := newTestSQLite(t)

	err := s.SaveMemories(context.Background(), []*Memory{{Content: "x"}})

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestSQLiteStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	require.NoError(t, s.DeleteMemories(ctx, []string{"m1", "unknown"}))

	n, _ := s.Count(ctx)
	assert.Equal(t, 3, n)
	hits, err := s.Search(ctx, "coffee", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveMemories(ctx, []*Memory{
		{ID: "old", Content: "a", CreatedAt: base},
		{ID: "new", Content: "b", CreatedAt: base.Add(time.Hour)},
	}))

	list, err := s.ListMemories(ctx, 10)

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, base.Add(time.Hour), list[0].CreatedAt)
}

func TestSQLiteStore_GetMemories(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	got, err := s.GetMemories(ctx, []string{"m1", "m2", "ghost"})

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "m1")
	assert.NotContains(t, got, "ghost")
}

// =============================================================================
// Exact match and FTS5
// =============================================================================

func TestSQLiteStore_MatchExact(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"by id", "ORD-1234", []string{"ORD-1234"}},
		{"by content ignoring case", "bob IS allergic to PEANUTS", []string{"m3"}},
		{"trimmed", "  m2  ", []string{"m2"}},
		{"no match", "ORD-9999", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.MatchExact(ctx, tt.query, 10)
			require.NoError(t, err)

			var ids []string
			for _, r := range results {
				ids = append(ids, r.ID)
				assert.Equal(t, 1.0, r.Score)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSQLiteStore_MatchExactPrefersIDOverContent(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, []*Memory{
		{ID: "note", Content: "x1", CreatedAt: time.Now()},
		{ID: "other", Content: "x1 ", CreatedAt: time.Now()},
		{ID: "x1", Content: "something else", CreatedAt: time.Now().Add(-time.Hour)},
	}))

	results, err := s.MatchExact(ctx, "x1", 10)

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "x1", results[0].ID)
}

func TestSQLiteStore_Search(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	// Given: a query where only one memory mentions both terms
	results, err := s.Search(ctx, "oat coffee", 10)

	// Then: it ranks first with a positive score and hydrated content
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "m1", results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, "Alice prefers oat milk in her coffee", results[0].Content)
}

func TestSQLiteStore_SearchAnyTermMatches(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	results, err := s.Search(ctx, "peanuts zeppelin", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m3", results[0].ID)
}

func TestSQLiteStore_SearchEdgeCases(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))

	for _, q := range []string{"", "   ", "the and of", `"*(`} {
		results, err := s.Search(ctx, q, 10)
		require.NoError(t, err, q)
		assert.Empty(t, results, q)
	}

	results, err := s.Search(ctx, "coffee", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteStore_SearchChinese(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.SaveMemories(ctx, []*Memory{
		{ID: "zh", Content: "我喜欢喝咖啡"},
		{ID: "en", Content: "tea time"},
	}))

	results, err := s.Search(ctx, "咖啡", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "zh", results[0].ID)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memories.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveMemories(ctx, seedMemories()))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSQLiteStore_ClosedAndIdempotentClose(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Search(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.MatchExact(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIsFTSQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"fts5 syntax", fmt.Errorf(`fts5: syntax error near "AND"`), true},
		{"generic syntax", fmt.Errorf(`SQL logic error: syntax error (1)`), true},
		{"locked database", fmt.Errorf("database is locked (5)"), false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isFTSQueryError(tt.err))
		})
	}
}

func TestSQLiteStore_SetLogger(t *testing.T) {
	// Given: a store with the default logger
	s := newTestSQLite(t)
	require.Same(t, slog.Default(), s.logger)

	// When: a logger is injected
	l := slog.New(slog.DiscardHandler)
	s.SetLogger(l)

	// Then: it replaces the default, and nil leaves it alone
	assert.Same(t, l, s.logger)
	s.SetLogger(nil)
	assert.Same(t, l, s.logger)
}
