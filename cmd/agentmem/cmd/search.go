package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/retrieval"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit   int
	format  string // "text", "json"
	explain bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored memories",
		Long: `Search stored memories with adaptive hybrid retrieval.

The query is classified first. Identifiers such as ORD-1234 are looked up
exactly; everything else is searched by vector similarity and BM25, fused
with Reciprocal Rank Fusion and cut at an adaptive threshold.

Examples:
  agentmem search "ORD-1234"
  agentmem search "what does alice drink in the morning" -n 5
  agentmem search coffee --explain
  agentmem search "咖啡" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show how the similarity threshold was derived")

	return cmd
}

// runSearch searches the store. Without --limit the configured default is
// used; an explicit non-positive limit is rejected by the engine.
func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	limit := opts.limit
	if !cmd.Flags().Changed("limit") {
		limit = a.cfg.Retrieval.DefaultLimit
		if limit <= 0 {
			limit = 10
		}
	}

	a.logger.Info("search_started", slog.String("query", query), slog.Int("limit", limit))

	resp, err := a.engine.Search(ctx, query, limit)
	if err != nil {
		a.logger.Error("search_failed", slog.String("query", query), slog.String("error", err.Error()))
		return err
	}
	a.record(query, resp)

	a.logger.Info("search_complete",
		slog.String("query_type", string(resp.QueryType)),
		slog.Int("results", len(resp.Results)),
		slog.Duration("latency", resp.Stats.TotalTime))

	var breakdown *retrieval.ThresholdBreakdown
	if opts.explain {
		breakdown = searchBreakdown(resp)
	}
	return newRenderer(cmd, opts.format).Search(query, resp, breakdown)
}

// searchBreakdown returns the threshold computation the search used. With
// adaptive thresholds off the strategy's fixed value is all there is.
func searchBreakdown(resp *retrieval.SearchResponse) *retrieval.ThresholdBreakdown {
	if resp.Threshold != nil {
		return resp.Threshold
	}
	used := resp.Stats.ThresholdUsed
	return &retrieval.ThresholdBreakdown{
		QueryType:     resp.QueryType,
		BaseThreshold: used,
		Combined:      used,
		SpecialRules:  []string{},
		Final:         used,
	}
}
