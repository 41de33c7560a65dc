package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/store"
	"github.com/louloulin/agentmem/internal/telemetry"
	"github.com/louloulin/agentmem/internal/ui"
)

// Number of top terms and zero-result queries shown.
const statsListLimit = 10

type statsOptions struct {
	days   int
	format string
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory store and query statistics",
		Long: `Show the size of the memory store and the query telemetry recorded by
'agentmem search' and 'agentmem serve': query type mix, latency
distribution, top query terms and recent zero-result queries.`,
		Example: `  agentmem stats
  agentmem stats --days 30 --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 7, "Telemetry window in days, including today")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, opts statsOptions) error {
	if opts.days <= 0 {
		return errors.ValidationError("--days must be positive", nil)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	count, err := a.backends.Count(ctx)
	if err != nil {
		return err
	}

	dataDir := a.cfg.Storage.DataDir
	info := ui.StatsInfo{
		DataDir:        dataDir,
		Memories:       count,
		LexicalBackend: a.cfg.Storage.LexicalBackend,
		StorageBytes:   dirSize(dataDir),
		Days:           opts.days,
	}
	if st, err := os.Stat(filepath.Join(dataDir, store.MemoriesFile)); err == nil {
		info.LastUpdated = st.ModTime()
	}

	if a.tstore != nil {
		if err := fillTelemetry(&info, a.tstore, opts.days, time.Now()); err != nil {
			return err
		}
	}

	return newRenderer(cmd, opts.format).Stats(info)
}

// fillTelemetry reads the persisted telemetry for the last days days.
func fillTelemetry(info *ui.StatsInfo, ts telemetry.MetricsStore, days int, now time.Time) error {
	to := now.Format(telemetry.DateFormat)
	from := now.AddDate(0, 0, -(days - 1)).Format(telemetry.DateFormat)

	var err error
	if info.QueryTypeCounts, err = ts.QueryTypeCounts(from, to); err != nil {
		return errors.StorageError("cannot read query telemetry", err)
	}
	if info.LatencyCounts, err = ts.LatencyCounts(from, to); err != nil {
		return errors.StorageError("cannot read latency telemetry", err)
	}
	if info.TopTerms, err = ts.TopTerms(statsListLimit); err != nil {
		return errors.StorageError("cannot read top terms", err)
	}
	if info.ZeroResultQueries, err = ts.ZeroResultQueries(statsListLimit); err != nil {
		return errors.StorageError("cannot read zero-result queries", err)
	}
	return nil
}

// dirSize sums the sizes of the regular files under dir.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total
}
