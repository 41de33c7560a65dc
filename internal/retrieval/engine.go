package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/louloulin/agentmem/internal/errors"
)

// OverFetchFactor is how many candidates per requested result each backend
// is asked for, leaving fusion room to re-rank.
const OverFetchFactor = 2

// EngineConfig toggles the stages of Search.
type EngineConfig struct {
	EnableQueryClassification bool    `json:"enable_query_classification"`
	EnableAdaptiveThreshold   bool    `json:"enable_adaptive_threshold"`
	EnableParallel            bool    `json:"enable_parallel"`
	EnableMetrics             bool    `json:"enable_metrics"`
	RRFK                      float64 `json:"rrf_k"`

	// NormalizeScores maps fused scores into [0,1] before thresholding.
	NormalizeScores bool `json:"normalize_scores"`
}

// DefaultEngineConfig enables every stage and uses raw RRF scores.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EnableQueryClassification: true,
		EnableAdaptiveThreshold:   true,
		EnableParallel:            true,
		EnableMetrics:             true,
		RRFK:                      DefaultRRFK,
	}
}

// Engine classifies queries, adapts thresholds, dispatches to backends and
// fuses their rankings. Every backend is optional. An Engine is safe for
// concurrent use.
type Engine struct {
	config     EngineConfig
	vector     VectorSearcher
	lexical    LexicalSearcher
	exact      ExactMatcher
	classifier *Classifier
	thresholds *ThresholdCalculator
	fusion     *RRFFusion
	metrics    *SearchMetrics
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithVectorSearcher sets the embedding-similarity backend.
func WithVectorSearcher(v VectorSearcher) EngineOption {
	return func(e *Engine) { e.vector = v }
}

// WithLexicalSearcher sets the BM25 backend.
func WithLexicalSearcher(l LexicalSearcher) EngineOption {
	return func(e *Engine) { e.lexical = l }
}

// WithExactMatcher sets the verbatim and ID matcher.
func WithExactMatcher(m ExactMatcher) EngineOption {
	return func(e *Engine) { e.exact = m }
}

// WithClassifier shares a classifier (and its cache) between engines.
func WithClassifier(c *Classifier) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithThresholdCalculator supplies the calculator, and with it the feedback
// history, the engine reads and updates.
func WithThresholdCalculator(t *ThresholdCalculator) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.thresholds = t
		}
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds an engine. A zero RRFK means DefaultRRFK.
func NewEngine(config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if config.RRFK < 0 || math.IsNaN(config.RRFK) || math.IsInf(config.RRFK, 0) {
		return nil, errors.ValidationError(fmt.Sprintf("rrf_k must be a non-negative number, got %v", config.RRFK), nil)
	}
	if config.RRFK == 0 {
		config.RRFK = DefaultRRFK
	}

	fusion := NewRRFFusion(config.RRFK)
	fusion.Normalize = config.NormalizeScores

	e := &Engine{
		config:  config,
		fusion:  fusion,
		metrics: NewSearchMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = NewClassifier(DefaultClassifierCacheSize)
	}
	if e.thresholds == nil {
		e.thresholds = NewThresholdCalculator(DefaultThresholdConfig())
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Search runs one hybrid retrieval.
//
// When the strategy asks for exact matching and the matcher returns
// anything, those results are returned as-is, without thresholding or
// feedback. Otherwise vector and lexical backends are queried for
// 2×limit candidates each, fused with RRF, filtered to score ≥ threshold
// and cut to limit. Any backend error aborts the call.
func (e *Engine) Search(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	if limit <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("limit must be positive, got %d", limit), nil)
	}

	start := time.Now()
	var stats SearchStats

	features := ExtractFeatures(query)
	qt := QueryTypeNaturalLanguage
	strategy := DefaultStrategy(qt)
	if e.config.EnableQueryClassification {
		t := time.Now()
		qt, strategy = e.classifier.Classify(query, features)
		stats.ClassificationTime = time.Since(t)
	}
	stats.QueryType = qt

	var breakdown *ThresholdBreakdown
	if e.config.EnableAdaptiveThreshold {
		t := time.Now()
		b := e.thresholds.CalculateWithDetails(query, qt, features)
		stats.ThresholdTime = time.Since(t)
		strategy.Threshold = b.Final
		breakdown = &b
	}
	stats.ThresholdUsed = strategy.Threshold

	if strategy.UseExactMatch && e.exact != nil {
		t := time.Now()
		matches, err := e.exact.MatchExact(ctx, query, limit)
		stats.ExactMatchTime = time.Since(t)
		if err != nil {
			return nil, fmt.Errorf("exact match: %w", err)
		}
		stats.ExactMatchResults = len(matches)
		if len(matches) > 0 {
			if len(matches) > limit {
				matches = matches[:limit]
			}
			stats.ExactMatchShortCircuit = true
			e.logger.Debug("exact_match_short_circuit",
				slog.String("query_type", string(qt)),
				slog.Int("matches", len(matches)))
			return e.finish(query, matches, qt, strategy, breakdown, stats, start), nil
		}
	}

	vec, lex, err := e.dispatch(ctx, query, limit*OverFetchFactor, strategy, &stats)
	if err != nil {
		e.logger.Warn("backend_failed",
			slog.String("query_type", string(qt)),
			slog.String("error", err.Error()))
		return nil, err
	}

	t := time.Now()
	fused := e.fusion.Fuse(vec, lex, strategy.VectorWeight, strategy.BM25Weight)
	stats.FusionTime = time.Since(t)
	stats.FusedResults = len(fused)

	results := filterByThreshold(fused, strategy.Threshold)
	if len(results) > limit {
		results = results[:limit]
	}

	if len(results) > 0 && e.thresholds.LearningEnabled() {
		e.thresholds.RecordFeedback(qt, meanScore(results))
	}

	return e.finish(query, results, qt, strategy, breakdown, stats, start), nil
}

func (e *Engine) finish(query string, results []SearchResult, qt QueryType, strategy SearchStrategy, breakdown *ThresholdBreakdown, stats SearchStats, start time.Time) *SearchResponse {
	stats.FinalResults = len(results)
	stats.TotalTime = time.Since(start)

	if e.config.EnableMetrics {
		e.metrics.Record(qt, stats.TotalTime)
	}

	e.logger.Debug("search_completed",
		slog.Int("query_len", len(query)),
		slog.String("query_type", string(qt)),
		slog.Float64("threshold", stats.ThresholdUsed),
		slog.Int("vector_results", stats.VectorResults),
		slog.Int("bm25_results", stats.BM25Results),
		slog.Int("final_results", stats.FinalResults),
		slog.Duration("total", stats.TotalTime))

	return &SearchResponse{
		Results:   results,
		QueryType: qt,
		Strategy:  strategy,
		Threshold: breakdown,
		Stats:     stats,
	}
}

// dispatch queries the enabled backends. Enabled backends that are not
// configured contribute nothing.
func (e *Engine) dispatch(ctx context.Context, query string, fetch int, strategy SearchStrategy, stats *SearchStats) (vec, lex []SearchResult, err error) {
	runVector := strategy.UseVector && e.vector != nil
	runLexical := strategy.UseBM25 && e.lexical != nil

	searchVector := func(ctx context.Context) error {
		t := time.Now()
		res, err := e.vector.Search(ctx, query, fetch, strategy.Threshold)
		stats.VectorTime = time.Since(t)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vec = res
		return nil
	}
	searchLexical := func(ctx context.Context) error {
		t := time.Now()
		res, err := e.lexical.Search(ctx, query, fetch)
		stats.BM25Time = time.Since(t)
		if err != nil {
			return fmt.Errorf("bm25 search: %w", err)
		}
		lex = res
		return nil
	}

	if e.config.EnableParallel && runVector && runLexical {
		// Each goroutine writes only its own result slice and stats fields.
		stats.Parallel = true
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return searchVector(gctx) })
		g.Go(func() error { return searchLexical(gctx) })
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	} else {
		if runVector {
			if err := searchVector(ctx); err != nil {
				return nil, nil, err
			}
		}
		if runLexical {
			if err := searchLexical(ctx); err != nil {
				return nil, nil, err
			}
		}
	}

	stats.VectorResults = len(vec)
	stats.BM25Results = len(lex)
	return vec, lex, nil
}

func filterByThreshold(results []SearchResult, threshold float64) []SearchResult {
	out := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

func meanScore(results []SearchResult) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

// ExplainThreshold classifies query and returns the full threshold
// computation, including rules that fired, without searching.
func (e *Engine) ExplainThreshold(query string) ThresholdBreakdown {
	features := ExtractFeatures(query)
	qt := QueryTypeNaturalLanguage
	if e.config.EnableQueryClassification {
		qt, _ = e.classifier.Classify(query, features)
	}
	return e.thresholds.CalculateWithDetails(query, qt, features)
}

// Metrics returns aggregate search metrics.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ResetMetrics zeroes aggregate search metrics.
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
}

// FeedbackStats returns the per-type threshold feedback state.
func (e *Engine) FeedbackStats() map[QueryType]TypeStats {
	return e.thresholds.Stats()
}

// ResetFeedback clears threshold feedback history.
func (e *Engine) ResetFeedback() {
	e.thresholds.ResetStats()
}
