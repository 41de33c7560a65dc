package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueryMetricsURI addresses the query telemetry resource.
const QueryMetricsURI = "agentmem://query_metrics"

func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query pattern telemetry for threshold tuning",
			MIMEType:    "application/json",
		},
		s.handleQueryMetrics,
	)
}

func (s *Server) handleQueryMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	metrics := s.queryMetrics()
	if metrics == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	snap := metrics.Snapshot()
	out := struct {
		TotalQueries    int64            `json:"total_queries"`
		ExactMatchCount int64            `json:"exact_match_count"`
		QueryTypeCounts map[string]int64 `json:"query_type_counts"`
		*TelemetryOutput
	}{
		TotalQueries:    snap.TotalQueries,
		ExactMatchCount: snap.ExactMatchCount,
		QueryTypeCounts: make(map[string]int64, len(snap.QueryTypeCounts)),
		TelemetryOutput: toTelemetryOutput(snap),
	}
	for qt, n := range snap.QueryTypeCounts {
		out.QueryTypeCounts[string(qt)] = n
	}

	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      QueryMetricsURI,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}
