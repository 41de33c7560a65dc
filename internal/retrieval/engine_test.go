package retrieval

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/agentmem/internal/errors"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeVector struct {
	fn    func(ctx context.Context, query string, limit int, threshold float64) ([]SearchResult, error)
	calls atomic.Int32
}

func (f *fakeVector) Search(ctx context.Context, query string, limit int, threshold float64) ([]SearchResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, query, limit, threshold)
}

type fakeLexical struct {
	fn    func(ctx context.Context, query string, limit int) ([]SearchResult, error)
	calls atomic.Int32
}

func (f *fakeLexical) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, query, limit)
}

type fakeExact struct {
	results []SearchResult
	err     error
	calls   atomic.Int32
}

func (f *fakeExact) MatchExact(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	f.calls.Add(1)
	return f.results, f.err
}

func staticVector(results ...SearchResult) *fakeVector {
	return &fakeVector{fn: func(context.Context, string, int, float64) ([]SearchResult, error) {
		return results, nil
	}}
}

func staticLexical(results ...SearchResult) *fakeLexical {
	return &fakeLexical{fn: func(context.Context, string, int) ([]SearchResult, error) {
		return results, nil
	}}
}

func manyResults(prefix string, n int) []SearchResult {
	out := make([]SearchResult, n)
	for i := range out {
		out[i] = SearchResult{ID: fmt.Sprintf("%s%d", prefix, i), Score: 1 - float64(i)/float64(n)}
	}
	return out
}

// zeroThresholds clamps every adaptive threshold to 0 so fusion output is
// observable with raw RRF scores.
func zeroThresholds() *ThresholdCalculator {
	cfg := DefaultThresholdConfig()
	cfg.MaxThreshold = 0
	return NewThresholdCalculator(cfg)
}

func newTestEngine(t *testing.T, cfg EngineConfig, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	return e
}

// =============================================================================
// Construction
// =============================================================================

func TestNewEngine_RejectsInvalidRRFK(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.RRFK = -1

	_, err := NewEngine(cfg)

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestNewEngine_ZeroRRFKUsesDefault(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.RRFK = 0

	e := newTestEngine(t, cfg)

	assert.Equal(t, DefaultRRFK, e.fusion.K)
}

func TestNewEngine_Options(t *testing.T) {
	// Given: backends, a shared classifier and calculator, and a logger
	vec := staticVector()
	lex := staticLexical()
	exact := &fakeExact{}
	c := NewClassifier(8)
	tc := NewThresholdCalculator(DefaultThresholdConfig())
	l := slog.New(slog.DiscardHandler)

	// When: building the engine with them
	e := newTestEngine(t, DefaultEngineConfig(),
		WithVectorSearcher(vec), WithLexicalSearcher(lex), WithExactMatcher(exact),
		WithClassifier(c), WithThresholdCalculator(tc), WithLogger(l))

	// Then: each one is wired in
	assert.Same(t, vec, e.vector)
	assert.Same(t, lex, e.lexical)
	assert.Same(t, exact, e.exact)
	assert.Same(t, c, e.classifier)
	assert.Same(t, tc, e.thresholds)
	assert.Same(t, l, e.logger)
}

func TestNewEngine_NilOptionsKeepDefaults(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(),
		WithClassifier(nil), WithThresholdCalculator(nil), WithLogger(nil))

	assert.NotNil(t, e.classifier)
	assert.NotNil(t, e.thresholds)
	assert.Same(t, slog.Default(), e.logger)
}

// =============================================================================
// Search
// =============================================================================

func TestSearch_RejectsNonPositiveLimit(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig())

	for _, limit := range []int{0, -1} {
		_, err := e.Search(context.Background(), "Apple", limit)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
	}
}

func TestSearch_NoBackendsReturnsEmpty(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig())

	for _, q := range []string{"P000001", "Apple", "What is the meaning of life, the universe, and everything?"} {
		resp, err := e.Search(context.Background(), q, 10)
		require.NoError(t, err, q)
		assert.Empty(t, resp.Results, q)
	}
}

func TestSearch_ExactMatchShortCircuit(t *testing.T) {
	// Given: an exact matcher with results and hybrid backends that would disagree
	exact := &fakeExact{results: []SearchResult{
		{ID: "P000001", Content: "order P000001", Score: 1.0},
		{ID: "P000001-note", Content: "note", Score: 0.01},
	}}
	vec := staticVector(SearchResult{ID: "other", Score: 0.99})
	lex := staticLexical(SearchResult{ID: "other", Score: 10})
	e := newTestEngine(t, DefaultEngineConfig(),
		WithExactMatcher(exact), WithVectorSearcher(vec), WithLexicalSearcher(lex))

	// When
	resp, err := e.Search(context.Background(), "P000001", 10)

	// Then: exact list returned verbatim, nothing else called
	require.NoError(t, err)
	assert.Equal(t, QueryTypeExactID, resp.QueryType)
	assert.Equal(t, exact.results, resp.Results)
	assert.True(t, resp.Stats.ExactMatchShortCircuit)
	assert.Equal(t, int32(1), exact.calls.Load())
	assert.Equal(t, int32(0), vec.calls.Load())
	assert.Equal(t, int32(0), lex.calls.Load())
	assert.Empty(t, e.FeedbackStats())
}

func TestSearch_ExactMatchTruncatedToLimit(t *testing.T) {
	exact := &fakeExact{results: manyResults("m", 5)}
	e := newTestEngine(t, DefaultEngineConfig(), WithExactMatcher(exact))

	resp, err := e.Search(context.Background(), "P000001", 2)

	require.NoError(t, err)
	assert.Equal(t, exact.results[:2], resp.Results)
}

func TestSearch_ExactMatchMissFallsThrough(t *testing.T) {
	// Given: exact strategy, matcher finds nothing, vector/bm25 disabled by strategy
	exact := &fakeExact{}
	vec := staticVector(SearchResult{ID: "a", Score: 0.9})
	e := newTestEngine(t, DefaultEngineConfig(), WithExactMatcher(exact), WithVectorSearcher(vec))

	resp, err := e.Search(context.Background(), "P000001", 5)

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, int32(0), vec.calls.Load())
}

func TestSearch_ExactMatchError(t *testing.T) {
	boom := stderrors.New("sqlite: database is closed")
	e := newTestEngine(t, DefaultEngineConfig(), WithExactMatcher(&fakeExact{err: boom}))

	_, err := e.Search(context.Background(), "P000001", 5)

	assert.ErrorIs(t, err, boom)
}

func TestSearch_FusesAndOrders(t *testing.T) {
	// Given: vector [a], bm25 [a, b] with natural-language weights 0.5/0.5
	e := newTestEngine(t, DefaultEngineConfig(), WithThresholdCalculator(zeroThresholds()),
		WithVectorSearcher(staticVector(SearchResult{ID: "a", Score: 0.8})),
		WithLexicalSearcher(staticLexical(SearchResult{ID: "a", Score: 4}, SearchResult{ID: "b", Score: 2})))

	// When
	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 10)

	// Then
	require.NoError(t, err)
	assert.Equal(t, QueryTypeNaturalLanguage, resp.QueryType)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"a", "b"}, ids(resp.Results))
	assert.InDelta(t, 0.01639, resp.Results[0].Score, 1e-5)
	assert.InDelta(t, 0.00806, resp.Results[1].Score, 1e-5)
	assert.Equal(t, 1, resp.Stats.VectorResults)
	assert.Equal(t, 2, resp.Stats.BM25Results)
	assert.Equal(t, 2, resp.Stats.FusedResults)
	assert.Equal(t, 2, resp.Stats.FinalResults)
}

func TestSearch_OverFetchesAndPassesThreshold(t *testing.T) {
	var gotVecLimit, gotLexLimit atomic.Int32
	var gotThreshold atomic.Value
	vec := &fakeVector{fn: func(_ context.Context, _ string, limit int, th float64) ([]SearchResult, error) {
		gotVecLimit.Store(int32(limit))
		gotThreshold.Store(th)
		return nil, nil
	}}
	lex := &fakeLexical{fn: func(_ context.Context, _ string, limit int) ([]SearchResult, error) {
		gotLexLimit.Store(int32(limit))
		return nil, nil
	}}
	e := newTestEngine(t, DefaultEngineConfig(), WithVectorSearcher(vec), WithLexicalSearcher(lex))

	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 7)

	require.NoError(t, err)
	assert.Equal(t, int32(14), gotVecLimit.Load())
	assert.Equal(t, int32(14), gotLexLimit.Load())
	assert.Equal(t, resp.Stats.ThresholdUsed, gotThreshold.Load())
	assert.Equal(t, resp.Strategy.Threshold, resp.Stats.ThresholdUsed)
}

func TestSearch_ResultCountNeverExceedsLimit(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), WithThresholdCalculator(zeroThresholds()),
		WithVectorSearcher(staticVector(manyResults("v", 30)...)),
		WithLexicalSearcher(staticLexical(manyResults("l", 30)...)))

	for _, limit := range []int{1, 3, 10, 100} {
		resp, err := e.Search(context.Background(), "favorite coffee order for Alice", limit)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(resp.Results), limit)
	}
}

func TestSearch_FiltersByThreshold(t *testing.T) {
	// Given: raw RRF scores (~0.016 max) and a natural-language threshold of 0.24
	e := newTestEngine(t, DefaultEngineConfig(),
		WithVectorSearcher(staticVector(SearchResult{ID: "a", Score: 0.9})),
		WithLexicalSearcher(staticLexical(SearchResult{ID: "a", Score: 3})))

	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 10)

	// Then: everything falls below the cutoff
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 1, resp.Stats.FusedResults)
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, resp.Stats.ThresholdUsed)
	}
}

func TestSearch_NormalizedScoresPassThreshold(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.NormalizeScores = true
	e := newTestEngine(t, cfg,
		WithVectorSearcher(staticVector(SearchResult{ID: "a", Score: 0.9})),
		WithLexicalSearcher(staticLexical(SearchResult{ID: "a", Score: 3}, SearchResult{ID: "b", Score: 1})))

	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 10)

	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, resp.Stats.ThresholdUsed)
	}
}

func TestSearch_BackendErrorAborts(t *testing.T) {
	boom := stderrors.New("hnsw: graph not loaded")

	for _, parallel := range []bool{true, false} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			cfg := DefaultEngineConfig()
			cfg.EnableParallel = parallel
			vec := &fakeVector{fn: func(context.Context, string, int, float64) ([]SearchResult, error) {
				return nil, boom
			}}
			e := newTestEngine(t, cfg, WithVectorSearcher(vec),
				WithLexicalSearcher(staticLexical(SearchResult{ID: "a"})))

			resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 5)

			assert.Nil(t, resp)
			assert.ErrorIs(t, err, boom)
			assert.Zero(t, e.Metrics().TotalQueries)
		})
	}
}

func TestSearch_ParallelIssuesBothBeforeAwaiting(t *testing.T) {
	// Given: backends that each wait for the other to start
	var started sync.WaitGroup
	started.Add(2)
	wait := func(ctx context.Context) error {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return stderrors.New("sibling backend never started")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	vec := &fakeVector{fn: func(ctx context.Context, _ string, _ int, _ float64) ([]SearchResult, error) {
		return []SearchResult{{ID: "a"}}, wait(ctx)
	}}
	lex := &fakeLexical{fn: func(ctx context.Context, _ string, _ int) ([]SearchResult, error) {
		return []SearchResult{{ID: "b"}}, wait(ctx)
	}}
	e := newTestEngine(t, DefaultEngineConfig(), WithThresholdCalculator(zeroThresholds()), WithVectorSearcher(vec), WithLexicalSearcher(lex))

	// When
	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 5)

	// Then
	require.NoError(t, err)
	assert.True(t, resp.Stats.Parallel)
	assert.ElementsMatch(t, []string{"a", "b"}, ids(resp.Results))
}

func TestSearch_ParallelErrorCancelsSibling(t *testing.T) {
	boom := stderrors.New("bleve: index closed")
	var siblingCancelled atomic.Bool
	vec := &fakeVector{fn: func(ctx context.Context, _ string, _ int, _ float64) ([]SearchResult, error) {
		select {
		case <-ctx.Done():
			siblingCancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return nil, nil
		}
	}}
	lex := &fakeLexical{fn: func(context.Context, string, int) ([]SearchResult, error) {
		return nil, boom
	}}
	e := newTestEngine(t, DefaultEngineConfig(), WithVectorSearcher(vec), WithLexicalSearcher(lex))

	_, err := e.Search(context.Background(), "favorite coffee order for Alice", 5)

	assert.ErrorIs(t, err, boom)
	assert.True(t, siblingCancelled.Load())
}

func TestSearch_SequentialWhenParallelDisabled(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}
	vec := &fakeVector{fn: func(context.Context, string, int, float64) ([]SearchResult, error) {
		record("vector")
		return nil, nil
	}}
	lex := &fakeLexical{fn: func(context.Context, string, int) ([]SearchResult, error) {
		record("bm25")
		return nil, nil
	}}
	cfg := DefaultEngineConfig()
	cfg.EnableParallel = false
	e := newTestEngine(t, cfg, WithVectorSearcher(vec), WithLexicalSearcher(lex))

	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 5)

	require.NoError(t, err)
	assert.False(t, resp.Stats.Parallel)
	assert.Equal(t, []string{"vector", "bm25"}, order)
}

func TestSearch_MissingBackendContributesNothing(t *testing.T) {
	// Given: only lexical configured though the strategy enables both
	e := newTestEngine(t, DefaultEngineConfig(), WithThresholdCalculator(zeroThresholds()),
		WithLexicalSearcher(staticLexical(SearchResult{ID: "x", Score: 2})))

	resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 5)

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0, resp.Stats.VectorResults)
	assert.InDelta(t, 0.5/61, resp.Results[0].Score, 1e-12)
}

func TestSearch_ClassificationDisabledUsesNaturalLanguage(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EnableQueryClassification = false
	exact := &fakeExact{results: []SearchResult{{ID: "P000001"}}}
	e := newTestEngine(t, cfg, WithExactMatcher(exact))

	resp, err := e.Search(context.Background(), "P000001", 5)

	require.NoError(t, err)
	assert.Equal(t, QueryTypeNaturalLanguage, resp.QueryType)
	assert.Equal(t, int32(0), exact.calls.Load())
}

func TestSearch_AdaptiveThresholdDisabledKeepsDefault(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EnableAdaptiveThreshold = false
	e := newTestEngine(t, cfg)

	resp, err := e.Search(context.Background(), "Apple", 5)

	require.NoError(t, err)
	assert.Equal(t, DefaultStrategy(QueryTypeShortKeyword).Threshold, resp.Stats.ThresholdUsed)
	assert.Nil(t, resp.Threshold)
}

func TestSearch_ThresholdBreakdownIsTheOneUsed(t *testing.T) {
	// Given: a hybrid search whose results feed the threshold history
	cfg := DefaultEngineConfig()
	cfg.NormalizeScores = true
	e := newTestEngine(t, cfg,
		WithVectorSearcher(staticVector(SearchResult{ID: "a", Score: 0.8})),
		WithLexicalSearcher(staticLexical(SearchResult{ID: "a", Score: 3})))
	query := "alice coffee morning routine"

	for i := 0; i < 2; i++ {
		// When: searching
		resp, err := e.Search(context.Background(), query, 5)

		// Then: the breakdown is the computation behind the threshold applied,
		// not one that already includes this search's feedback
		require.NoError(t, err)
		require.NotNil(t, resp.Threshold)
		require.NotEmpty(t, resp.Results)
		assert.Equal(t, resp.Stats.ThresholdUsed, resp.Threshold.Final, "search %d", i)
		assert.Equal(t, resp.QueryType, resp.Threshold.QueryType)
		if i == 0 {
			assert.Zero(t, resp.Threshold.HistoricalAdjustment)
		}
	}

	// And: the searches fed the threshold history
	assert.NotEmpty(t, e.FeedbackStats())
}

func TestSearch_ParallelOnlyWhenBothBackendsRun(t *testing.T) {
	tests := []struct {
		name  string
		query string
		opts  []EngineOption
	}{
		{
			name:  "single backend",
			query: "favorite coffee order for Alice",
			opts:  []EngineOption{WithLexicalSearcher(staticLexical(SearchResult{ID: "x", Score: 2}))},
		},
		{
			name:  "exact match short circuit",
			query: "P000001",
			opts: []EngineOption{
				WithExactMatcher(&fakeExact{results: []SearchResult{{ID: "P000001", Score: 1}}}),
				WithVectorSearcher(staticVector()),
				WithLexicalSearcher(staticLexical()),
			},
		},
		{
			name:  "no backends",
			query: "favorite coffee order for Alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: parallel dispatch enabled in config
			e := newTestEngine(t, DefaultEngineConfig(), tt.opts...)

			// When
			resp, err := e.Search(context.Background(), tt.query, 5)

			// Then: nothing ran concurrently, so the stats say so
			require.NoError(t, err)
			assert.False(t, resp.Stats.Parallel)
		})
	}
}

func TestSearch_RecordsFeedbackAndMetrics(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.MaxThreshold = 0
	calc := NewThresholdCalculator(cfg)
	e := newTestEngine(t, DefaultEngineConfig(),
		WithThresholdCalculator(calc),
		WithVectorSearcher(staticVector(SearchResult{ID: "a"})),
		WithLexicalSearcher(staticLexical(SearchResult{ID: "a"})))

	_, err := e.Search(context.Background(), "favorite coffee order for Alice", 5)
	require.NoError(t, err)

	// Raw RRF scores are tiny, so feedback pushes toward a looser threshold.
	fb := e.FeedbackStats()[QueryTypeNaturalLanguage]
	assert.Equal(t, 1, fb.Samples)
	assert.InDelta(t, 1.0/61, fb.AvgScore, 1e-12)
	assert.Equal(t, -0.05, fb.Adjustment)

	m := e.Metrics()
	assert.Equal(t, int64(1), m.TotalQueries)
	assert.Equal(t, int64(1), m.QueriesByType[QueryTypeNaturalLanguage])

	e.ResetMetrics()
	e.ResetFeedback()
	assert.Zero(t, e.Metrics().TotalQueries)
	assert.Empty(t, e.FeedbackStats())
}

func TestSearch_MetricsDisabled(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EnableMetrics = false
	e := newTestEngine(t, cfg)

	_, err := e.Search(context.Background(), "Apple", 5)
	require.NoError(t, err)

	assert.Zero(t, e.Metrics().TotalQueries)
}

func TestSearch_ConcurrentCalls(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(),
		WithVectorSearcher(staticVector(manyResults("v", 5)...)),
		WithLexicalSearcher(staticLexical(manyResults("l", 5)...)))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := e.Search(context.Background(), "favorite coffee order for Alice", 3)
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(resp.Results), 3)
		}()
	}
	wg.Wait()

	// Best-effort metrics may drop updates but never over-count.
	assert.LessOrEqual(t, e.Metrics().TotalQueries, int64(32))
}

func TestExplainThreshold(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig())

	b := e.ExplainThreshold("P000001")

	assert.Equal(t, QueryTypeExactID, b.QueryType)
	assert.Equal(t, []string{RuleExactOrTemporal}, b.SpecialRules)
	assert.Equal(t, 0.0, b.Final)
}
