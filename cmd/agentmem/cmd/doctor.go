package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/preflight"
)

type doctorOptions struct {
	verbose bool
	json    bool
}

func newDoctorCmd() *cobra.Command {
	var opts doctorOptions

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the memory store is usable",
		Long: `Run preflight checks against the configured data directory: write
access, free disk space, file descriptor limits, the memory store and its
indexes, and the telemetry database.

Exits non-zero when a required check fails.`,
		Example: `  agentmem doctor
  agentmem doctor --verbose
  agentmem --data-dir /srv/memories doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts doctorOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithVerbose(opts.verbose),
	)
	results := checker.RunAll(cmd.Context(), cfg)

	if opts.json {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(struct {
			Status string                  `json:"status"`
			Checks []preflight.CheckResult `json:"checks"`
		}{checker.SummaryStatus(results), results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return errors.StorageError("preflight checks failed", nil).
			WithSuggestion("Fix the failed checks above, or point --data-dir at another directory")
	}
	return nil
}
