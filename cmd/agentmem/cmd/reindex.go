package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/ui"
)

type reindexOptions struct {
	format string
}

func newReindexCmd() *cobra.Command {
	var opts reindexOptions

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector and lexical indexes from memories.db",
		Long: `Re-embed every stored memory into a fresh vector index and re-index the
Bleve lexical index when it is configured.

Deleted memories leave nodes behind in the vector graph; 'agentmem doctor'
reports them as orphaned_nodes. Reindexing drops them.`,
		Example: `  agentmem reindex
  agentmem reindex --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, opts reindexOptions) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithNoColor(noColorFlag),
		ui.WithFormat(ui.ParseFormat(opts.format)))
	progress := ui.NewProgressRenderer(cfg, "Rebuilding indexes")
	if err := progress.Start(ctx); err != nil {
		return err
	}

	stats, err := a.backends.Rebuild(ctx, progress.Update)
	if err != nil {
		_ = progress.Stop()
		a.logger.Error("reindex_failed", slog.String("error", err.Error()))
		return err
	}
	progress.Complete(stats.Memories, stats.Duration)
	if err := progress.Stop(); err != nil {
		return err
	}

	return ui.NewRenderer(cfg).Reindexed(stats.Memories, stats.Duration)
}
