package retrieval

import (
	"sync"
	"time"
)

// SearchStats describes one Search call.
type SearchStats struct {
	QueryType QueryType `json:"query_type"`

	ClassificationTime time.Duration `json:"classification_time"`
	ThresholdTime      time.Duration `json:"threshold_time"`
	ExactMatchTime     time.Duration `json:"exact_match_time"`
	VectorTime         time.Duration `json:"vector_time"`
	BM25Time           time.Duration `json:"bm25_time"`
	FusionTime         time.Duration `json:"fusion_time"`
	TotalTime          time.Duration `json:"total_time"`

	ExactMatchResults int `json:"exact_match_results"`
	VectorResults     int `json:"vector_results"`
	BM25Results       int `json:"bm25_results"`
	FusedResults      int `json:"fused_results"`
	FinalResults      int `json:"final_results"`

	ThresholdUsed float64 `json:"threshold_used"`

	// ExactMatchShortCircuit is set when exact matches were returned as-is.
	ExactMatchShortCircuit bool `json:"exact_match_short_circuit"`

	// Parallel is set when vector and lexical searches ran concurrently.
	Parallel bool `json:"parallel"`
}

// MetricsSnapshot is a point-in-time copy of SearchMetrics.
type MetricsSnapshot struct {
	TotalQueries  int64               `json:"total_queries"`
	QueriesByType map[QueryType]int64 `json:"queries_by_type"`
	AvgLatencyMs  float64             `json:"avg_latency_ms"`

	// P99LatencyMs is the largest latency observed since the last reset.
	// It is a running maximum, not a windowed 99th percentile; the name is
	// kept for compatibility with existing dashboards.
	P99LatencyMs float64 `json:"p99_latency_ms"`
}

// SearchMetrics aggregates search counts and latency across calls.
// Updates are best-effort: an update that finds the lock held is dropped.
type SearchMetrics struct {
	mu            sync.RWMutex
	totalQueries  int64
	queriesByType map[QueryType]int64
	avgLatencyMs  float64
	maxLatencyMs  float64
}

// NewSearchMetrics creates zeroed metrics.
func NewSearchMetrics() *SearchMetrics {
	return &SearchMetrics{queriesByType: make(map[QueryType]int64)}
}

// Record adds one query. It reports false if the update was dropped.
func (m *SearchMetrics) Record(qt QueryType, latency time.Duration) bool {
	if !m.mu.TryLock() {
		return false
	}
	defer m.mu.Unlock()

	ms := float64(latency) / float64(time.Millisecond)
	n := float64(m.totalQueries)
	m.avgLatencyMs = (m.avgLatencyMs*n + ms) / (n + 1)
	m.totalQueries++
	m.queriesByType[qt]++
	if ms > m.maxLatencyMs {
		m.maxLatencyMs = ms
	}
	return true
}

// Snapshot copies the current metrics.
func (m *SearchMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[QueryType]int64, len(m.queriesByType))
	for qt, n := range m.queriesByType {
		byType[qt] = n
	}
	return MetricsSnapshot{
		TotalQueries:  m.totalQueries,
		QueriesByType: byType,
		AvgLatencyMs:  m.avgLatencyMs,
		P99LatencyMs:  m.maxLatencyMs,
	}
}

// Reset zeroes the metrics.
func (m *SearchMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalQueries = 0
	m.queriesByType = make(map[QueryType]int64)
	m.avgLatencyMs = 0
	m.maxLatencyMs = 0
}
