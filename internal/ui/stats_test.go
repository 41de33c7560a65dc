package ui

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/telemetry"
)

func sampleStats() StatsInfo {
	return StatsInfo{
		DataDir:        "/home/u/.agentmem",
		Memories:       42,
		LexicalBackend: "sqlite",
		StorageBytes:   3 * 1024 * 1024,
		LastUpdated:    time.Now().Add(-2 * time.Hour),
		Days:           7,
		QueryTypeCounts: map[retrieval.QueryType]int64{
			retrieval.QueryTypeShortKeyword: 6,
			retrieval.QueryTypeSemantic:     2,
		},
		LatencyCounts: map[telemetry.LatencyBucket]int64{
			telemetry.BucketP10: 7,
			telemetry.BucketP50: 1,
		},
		TopTerms:          []telemetry.TermCount{{Term: "coffee", Count: 4}, {Term: "tea", Count: 2}},
		ZeroResultQueries: []string{"quantum espresso"},
	}
}

func TestStatsInfo_TotalQueries(t *testing.T) {
	assert.Equal(t, int64(8), sampleStats().TotalQueries())
	assert.Zero(t, StatsInfo{}.TotalQueries())
}

func TestRenderer_Stats_Text(t *testing.T) {
	// Given: populated stats
	r, buf := newTestRenderer(FormatText)

	// When: rendering
	require.NoError(t, r.Stats(sampleStats()))

	// Then: store and telemetry sections are present
	out := buf.String()
	for _, want := range []string{
		"Memory Store: /home/u/.agentmem",
		"Memories:     42",
		"Lexical:      sqlite",
		"Storage:      3.0 MB",
		"Last updated: 2 hours ago",
		"Queries (last 7 days): 8",
		"short_keyword           6  " + "███████████████",
		"< 10ms                  7  " + "████████████████████",
		"Top terms: coffee (4), tea (2)",
		"quantum espresso",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderer_Stats_NoQueries(t *testing.T) {
	r, buf := newTestRenderer(FormatText)

	require.NoError(t, r.Stats(StatsInfo{DataDir: "/tmp/m", Days: 7}))

	assert.Contains(t, buf.String(), "no queries recorded")
	assert.NotContains(t, buf.String(), "Latency:")
	assert.NotContains(t, buf.String(), "Last updated")
}

func TestRenderer_Stats_JSON(t *testing.T) {
	r, buf := newTestRenderer(FormatJSON)

	require.NoError(t, r.Stats(sampleStats()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, float64(42), got["memories"])
	assert.Equal(t, map[string]any{"short_keyword": float64(6), "semantic": float64(2)}, got["query_type_counts"])
	assert.Equal(t, float64(7), got["latency_counts"].(map[string]any)["p10"])
}

func TestBar(t *testing.T) {
	tests := []struct {
		name     string
		n, total int64
		width    int
		want     string
	}{
		{"zero", 0, 10, 20, ""},
		{"no total", 5, 0, 20, ""},
		{"full", 10, 10, 4, "████"},
		{"half", 5, 10, 4, "██"},
		{"partial", 1, 10, 4, "▍"},
		{"tiny rounds up", 1, 1000, 4, "▏"},
		{"over total clamps", 20, 10, 2, "██"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Bar(tt.n, tt.total, tt.width))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{2 * 1024 * 1024 * 1024, "2.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBytes(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"just now", now.Add(-10 * time.Second), "just now"},
		{"one minute", now.Add(-90 * time.Second), "1 minute ago"},
		{"minutes", now.Add(-5 * time.Minute), "5 minutes ago"},
		{"one hour", now.Add(-61 * time.Minute), "1 hour ago"},
		{"days", now.Add(-50 * time.Hour), "2 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTime(tt.t))
		})
	}

	old := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	assert.Equal(t, "2024-05-01 08:30", formatTime(old))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.5ms", formatDuration(500*time.Microsecond))
	assert.Equal(t, "12.0ms", formatDuration(12*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
}
