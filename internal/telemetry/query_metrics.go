// Package telemetry records query patterns for threshold tuning.
// All data stays local; nothing is reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/store"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// AllBuckets lists buckets from fastest to slowest.
var AllBuckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent is one completed search.
type QueryEvent struct {
	Query       string
	QueryType   retrieval.QueryType
	ResultCount int
	Latency     time.Duration
	Threshold   float64
	ExactMatch  bool
	Timestamp   time.Time
}

// EventFromResponse builds the event for a finished Engine.Search call.
func EventFromResponse(query string, resp *retrieval.SearchResponse) QueryEvent {
	return QueryEvent{
		Query:       query,
		QueryType:   resp.QueryType,
		ResultCount: len(resp.Results),
		Latency:     resp.Stats.TotalTime,
		Threshold:   resp.Stats.ThresholdUsed,
		ExactMatch:  resp.Stats.ExactMatchShortCircuit,
		Timestamp:   time.Now(),
	}
}

// IsZeroResult reports whether the query found nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer. Non-positive capacity means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the contents oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		// Full: the oldest item sits at head.
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Terms
// =============================================================================

// ExtractTerms returns the query terms worth counting: tokens of at least
// three runes, plus single Han characters.
func ExtractTerms(query string) []string {
	var terms []string
	for _, tok := range store.Tokenize(query) {
		if utf8.RuneCountInString(tok) >= 3 {
			terms = append(terms, tok)
			continue
		}
		if r, _ := utf8.DecodeRuneInString(tok); unicode.Is(unicode.Han, r) {
			terms = append(terms, tok)
		}
	}
	return terms
}

// TermCount is a term and how often it was queried.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is a point-in-time copy of QueryMetrics.
type QueryMetricsSnapshot struct {
	QueryTypeCounts     map[retrieval.QueryType]int64 `json:"query_type_counts"`
	TopTerms            []TermCount                   `json:"top_terms"`
	ZeroResultQueries   []string                      `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64       `json:"latency_distribution"`
	TotalQueries        int64                         `json:"total_queries"`
	ZeroResultCount     int64                         `json:"zero_result_count"`
	ExactMatchCount     int64                         `json:"exact_match_count"`
	ExactRepeatCount    int64                         `json:"exact_repeat_count"`
	Since               time.Time                     `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// RepeatRate returns the fraction of queries seen before in the recent window.
func (s *QueryMetricsSnapshot) RepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ExactRepeatCount) / float64(s.TotalQueries)
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsConfig configures a QueryMetrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // default 100
	ZeroResultsCapacity   int           // default 100
	RecentQueriesCapacity int           // default 500
	FlushInterval         time.Duration // 0 disables the flush loop
}

// DefaultQueryMetricsConfig returns the defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         30 * time.Second,
	}
}

// QueryMetrics collects search telemetry in memory and periodically adds
// what accumulated since the last flush to a MetricsStore. Safe for
// concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	// Cumulative since creation.
	queryTypes      map[retrieval.QueryType]int64
	latencies       map[LatencyBucket]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	recentQueries   *lru.Cache[string, struct{}]
	totalQueries    int64
	zeroResultCount int64
	exactMatchCount int64
	repeatCount     int64
	startTime       time.Time

	// Not yet flushed.
	pendingTypes     map[retrieval.QueryType]int64
	pendingLatencies map[LatencyBucket]int64
	pendingTerms     map[string]int64
	pendingZero      []QueryEvent

	store  MetricsStore
	config QueryMetricsConfig
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
	closed bool
}

// NewQueryMetrics creates a collector. A nil store keeps metrics in memory
// only.
func NewQueryMetrics(store MetricsStore, cfg QueryMetricsConfig, logger *slog.Logger) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		queryTypes:    make(map[retrieval.QueryType]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		startTime:     time.Now(),
		store:         store,
		config:        cfg,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	m.resetPending()

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.doneCh)
	}
	return m
}

func (m *QueryMetrics) resetPending() {
	m.pendingTypes = make(map[retrieval.QueryType]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingZero = nil
}

func (m *QueryMetrics) flushLoop(interval time.Duration) {
	defer close(m.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record adds one search. Calls after Close are ignored.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	bucket := LatencyToBucket(event.Latency)
	terms := ExtractTerms(event.Query)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.totalQueries++
	m.queryTypes[event.QueryType]++
	m.pendingTypes[event.QueryType]++
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	for _, term := range terms {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResultCount++
		m.zeroResults.Add(event.Query)
		m.pendingZero = append(m.pendingZero, event)
	}
	if event.ExactMatch {
		m.exactMatchCount++
	}

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.repeatCount++
	}
	m.recentQueries.Add(key, struct{}{})
}

// hashQuery normalizes and hashes a query for repeat detection.
func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot copies the in-memory metrics.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[retrieval.QueryType]int64, len(m.queryTypes))
	for k, v := range m.queryTypes {
		types[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var terms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &QueryMetricsSnapshot{
		QueryTypeCounts:     types,
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ExactMatchCount:     m.exactMatchCount,
		ExactRepeatCount:    m.repeatCount,
		Since:               m.startTime,
	}
}

// Flush adds the counts gathered since the previous flush to the store.
// On failure the pending counts are kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	types, latencies, terms, zero := m.pendingTypes, m.pendingLatencies, m.pendingTerms, m.pendingZero
	m.resetPending()
	m.mu.Unlock()

	if len(types) == 0 && len(terms) == 0 && len(zero) == 0 {
		return nil
	}

	err := m.store.SaveDelta(MetricsDelta{
		Date:        time.Now().Format(DateFormat),
		QueryTypes:  types,
		Latencies:   latencies,
		Terms:       terms,
		ZeroResults: zero,
	})
	if err != nil {
		m.restorePending(types, latencies, terms, zero)
		return err
	}

	m.logger.Debug("telemetry_flushed",
		slog.Int("query_types", len(types)),
		slog.Int("terms", len(terms)),
		slog.Int("zero_results", len(zero)))
	return nil
}

func (m *QueryMetrics) restorePending(types map[retrieval.QueryType]int64, latencies map[LatencyBucket]int64, terms map[string]int64, zero []QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range types {
		m.pendingTypes[k] += v
	}
	for k, v := range latencies {
		m.pendingLatencies[k] += v
	}
	for k, v := range terms {
		m.pendingTerms[k] += v
	}
	m.pendingZero = append(zero, m.pendingZero...)
}

// Close stops the flush loop and flushes what is pending. The store is not
// closed.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
	return m.Flush()
}
