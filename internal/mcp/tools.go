package mcp

import (
	"github.com/louloulin/agentmem/internal/retrieval"
)

// Tool names.
const (
	ToolMemorySearch     = "memory_search"
	ToolMemoryAdd        = "memory_add"
	ToolSearchStats      = "search_stats"
	ToolExplainThreshold = "explain_threshold"
)

// Limit bounds for memory_search.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// MaxQueryLength caps query size in runes.
const MaxQueryLength = 2000

// MemorySearchInput is the input schema for memory_search.
type MemorySearchInput struct {
	Query string `json:"query" jsonschema:"what to look for in stored memories"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 50"`
}

// MemorySearchOutput is the output schema for memory_search.
type MemorySearchOutput struct {
	QueryType  string               `json:"query_type" jsonschema:"how the query was classified"`
	Threshold  float64              `json:"threshold" jsonschema:"similarity cutoff applied to fused scores"`
	ExactMatch bool                 `json:"exact_match" jsonschema:"true if results are verbatim ID or content matches"`
	Results    []MemoryResultOutput `json:"results" jsonschema:"matching memories, best first"`
}

// MemoryResultOutput is one memory in a memory_search response.
type MemoryResultOutput struct {
	ID            string   `json:"id"`
	Content       string   `json:"content"`
	Score         float64  `json:"score" jsonschema:"ranking score"`
	VectorScore   *float64 `json:"vector_score,omitempty" jsonschema:"cosine similarity, if found by vector search"`
	FulltextScore *float64 `json:"fulltext_score,omitempty" jsonschema:"BM25 score, if found by keyword search"`
	MatchReason   string   `json:"match_reason,omitempty" jsonschema:"which backends found this memory"`
}

// MemoryAddInput is the input schema for memory_add.
type MemoryAddInput struct {
	Content  string            `json:"content" jsonschema:"the fact or note to remember"`
	ID       string            `json:"id,omitempty" jsonschema:"optional stable ID; generated when empty"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"optional string key-value metadata"`
}

// MemoryAddOutput is the output schema for memory_add.
type MemoryAddOutput struct {
	ID    string `json:"id"`
	Total int    `json:"total" jsonschema:"number of stored memories after the add"`
}

// SearchStatsInput is the input schema for search_stats.
type SearchStatsInput struct {
	Reset bool `json:"reset,omitempty" jsonschema:"zero the counters after reading them"`
}

// SearchStatsOutput is the output schema for search_stats.
type SearchStatsOutput struct {
	TotalQueries  int64                          `json:"total_queries"`
	QueriesByType map[string]int64               `json:"queries_by_type"`
	AvgLatencyMs  float64                        `json:"avg_latency_ms"`
	MaxLatencyMs  float64                        `json:"max_latency_ms" jsonschema:"largest latency since the last reset"`
	Feedback      map[string]retrieval.TypeStats `json:"feedback" jsonschema:"per query type mean result score and threshold adjustment"`
	MemoryCount   int                            `json:"memory_count"`
	Telemetry     *TelemetryOutput               `json:"telemetry,omitempty"`
}

// TelemetryOutput summarizes query telemetry for this session.
type TelemetryOutput struct {
	ZeroResultPct       float64          `json:"zero_result_pct"`
	RepeatRate          float64          `json:"repeat_rate"`
	TopTerms            []TermOutput     `json:"top_terms"`
	ZeroResultQueries   []string         `json:"zero_result_queries"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
	Since               string           `json:"since"`
}

// TermOutput is a query term and its frequency.
type TermOutput struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ExplainThresholdInput is the input schema for explain_threshold.
type ExplainThresholdInput struct {
	Query string `json:"query" jsonschema:"the query to explain"`
}

// ExplainThresholdOutput is the output schema for explain_threshold.
type ExplainThresholdOutput struct {
	QueryType            string   `json:"query_type"`
	BaseThreshold        float64  `json:"base_threshold"`
	LengthAdjustment     float64  `json:"length_adjustment"`
	ComplexityScore      float64  `json:"complexity_score"`
	ComplexityAdjustment float64  `json:"complexity_adjustment"`
	HistoricalAdjustment float64  `json:"historical_adjustment"`
	Combined             float64  `json:"combined"`
	SpecialRules         []string `json:"special_rules"`
	Final                float64  `json:"final"`
}
