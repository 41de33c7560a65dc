package telemetry

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/agentmem/internal/retrieval"
)

func setupTestStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()

	s, err := OpenSQLiteMetricsStore(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteMetricsStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(nil)
	assert.Error(t, err)
}

func TestSQLiteMetricsStore_SaveDeltaAccumulates(t *testing.T) {
	s := setupTestStore(t)

	// Given two deltas on the same day and one on the next
	require.NoError(t, s.SaveDelta(MetricsDelta{
		Date:       "2026-03-01",
		QueryTypes: map[retrieval.QueryType]int64{retrieval.QueryTypeSemantic: 10, retrieval.QueryTypeExactID: 2},
		Latencies:  map[LatencyBucket]int64{BucketP10: 7, BucketP500: 5},
	}))
	require.NoError(t, s.SaveDelta(MetricsDelta{
		Date:       "2026-03-01",
		QueryTypes: map[retrieval.QueryType]int64{retrieval.QueryTypeSemantic: 5},
		Latencies:  map[LatencyBucket]int64{BucketP10: 1},
	}))
	require.NoError(t, s.SaveDelta(MetricsDelta{
		Date:       "2026-03-02",
		QueryTypes: map[retrieval.QueryType]int64{retrieval.QueryTypeSemantic: 1},
	}))

	// When
	day, err := s.QueryTypeCounts("2026-03-01", "2026-03-01")
	require.NoError(t, err)
	both, err := s.QueryTypeCounts("2026-03-01", "2026-03-02")
	require.NoError(t, err)
	lat, err := s.LatencyCounts("2026-03-01", "2026-03-31")
	require.NoError(t, err)

	// Then
	assert.Equal(t, int64(15), day[retrieval.QueryTypeSemantic])
	assert.Equal(t, int64(2), day[retrieval.QueryTypeExactID])
	assert.Equal(t, int64(16), both[retrieval.QueryTypeSemantic])
	assert.Equal(t, int64(8), lat[BucketP10])
	assert.Equal(t, int64(5), lat[BucketP500])
}

func TestSQLiteMetricsStore_TopTerms(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.SaveDelta(MetricsDelta{Date: "2026-03-01", Terms: map[string]int64{"coffee": 3, "order": 1, "milk": 3}}))
	require.NoError(t, s.SaveDelta(MetricsDelta{Date: "2026-03-01", Terms: map[string]int64{"order": 4}}))

	terms, err := s.TopTerms(2)
	require.NoError(t, err)

	assert.Equal(t, []TermCount{{Term: "order", Count: 5}, {Term: "coffee", Count: 3}}, terms)
}

func TestSQLiteMetricsStore_ZeroResultBufferIsBounded(t *testing.T) {
	s := setupTestStore(t)

	var events []QueryEvent
	for i := 0; i < MaxZeroResultQueries+10; i++ {
		events = append(events, QueryEvent{
			Query:     fmt.Sprintf("q%d", i),
			QueryType: retrieval.QueryTypeSemantic,
			Timestamp: time.Now(),
		})
	}
	require.NoError(t, s.SaveDelta(MetricsDelta{Date: "2026-03-01", ZeroResults: events}))

	all, err := s.ZeroResultQueries(1000)
	require.NoError(t, err)
	assert.Len(t, all, MaxZeroResultQueries)
	assert.Equal(t, fmt.Sprintf("q%d", MaxZeroResultQueries+9), all[0])
}

func TestSQLiteMetricsStore_EndToEndWithQueryMetrics(t *testing.T) {
	s := setupTestStore(t)
	cfg := DefaultQueryMetricsConfig()
	cfg.FlushInterval = 0
	m := NewQueryMetrics(s, cfg, nil)

	m.Record(QueryEvent{Query: "coffee order", QueryType: retrieval.QueryTypeShortKeyword, ResultCount: 1, Latency: time.Millisecond})
	m.Record(QueryEvent{Query: "nothing here", QueryType: retrieval.QueryTypeNaturalLanguage, ResultCount: 0, Latency: time.Millisecond})
	require.NoError(t, m.Close())

	today := time.Now().Format(DateFormat)
	counts, err := s.QueryTypeCounts(today, today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[retrieval.QueryTypeShortKeyword])
	assert.Equal(t, int64(1), counts[retrieval.QueryTypeNaturalLanguage])

	zero, err := s.ZeroResultQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"nothing here"}, zero)
}
