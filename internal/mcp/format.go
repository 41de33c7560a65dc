package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/telemetry"
)

// ToSearchOutput converts an engine response to the tool output.
func ToSearchOutput(resp *retrieval.SearchResponse) MemorySearchOutput {
	out := MemorySearchOutput{
		QueryType:  string(resp.QueryType),
		Threshold:  resp.Stats.ThresholdUsed,
		ExactMatch: resp.Stats.ExactMatchShortCircuit,
		Results:    make([]MemoryResultOutput, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, MemoryResultOutput{
			ID:            r.ID,
			Content:       r.Content,
			Score:         r.Score,
			VectorScore:   r.VectorScore,
			FulltextScore: r.FulltextScore,
			MatchReason:   matchReason(r, out.ExactMatch),
		})
	}
	return out
}

// matchReason names the backends that contributed a result.
func matchReason(r retrieval.SearchResult, exact bool) string {
	switch {
	case exact:
		return "exact match"
	case r.VectorScore != nil && r.FulltextScore != nil:
		return "found by both keyword and semantic search"
	case r.VectorScore != nil:
		return "semantic match"
	case r.FulltextScore != nil:
		return "keyword match"
	default:
		return ""
	}
}

// FormatSearchResults renders memory_search output as markdown.
func FormatSearchResults(query string, out MemorySearchOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No memories found for \"%s\" (query type: %s, threshold: %.3f)", query, out.QueryType, out.Threshold)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Memories for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (query type: %s)\n\n", out.QueryType)

	for i, r := range out.Results {
		fmt.Fprintf(&sb, "### %d. %s (score: %.4f)\n", i+1, r.ID, r.Score)
		if r.MatchReason != "" {
			fmt.Fprintf(&sb, "*%s*\n", r.MatchReason)
		}
		fmt.Fprintf(&sb, "\n%s\n\n", r.Content)
	}
	return sb.String()
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		limit = defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

func toTelemetryOutput(snap *telemetry.QueryMetricsSnapshot) *TelemetryOutput {
	out := &TelemetryOutput{
		ZeroResultPct:       snap.ZeroResultPercentage(),
		RepeatRate:          snap.RepeatRate(),
		TopTerms:            make([]TermOutput, 0, len(snap.TopTerms)),
		ZeroResultQueries:   snap.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
		Since:               snap.Since.Format(time.RFC3339),
	}
	if out.ZeroResultQueries == nil {
		out.ZeroResultQueries = []string{}
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, TermOutput{Term: tc.Term, Count: tc.Count})
	}
	for bucket, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = n
	}
	return out
}
