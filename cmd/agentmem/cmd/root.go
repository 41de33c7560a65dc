// Package cmd provides the CLI commands for agentmem.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/logging"
	"github.com/louloulin/agentmem/internal/profiling"
	"github.com/louloulin/agentmem/internal/ui"
	"github.com/louloulin/agentmem/pkg/version"
)

// Flags shared by every command.
var (
	dataDirFlag    string
	noColorFlag    bool
	debugMode      bool
	loggingCleanup func()

	profileOpts profiling.Options
	profiler    *profiling.Session
)

// NewRootCmd creates the root command for the agentmem CLI.
func NewRootCmd() *cobra.Command {
	dataDirFlag, noColorFlag, debugMode = "", false, false
	profileOpts = profiling.Options{}

	cmd := &cobra.Command{
		Use:   "agentmem",
		Short: "Adaptive hybrid memory search for AI agents",
		Long: `agentmem stores an agent's memories and finds them again with hybrid
retrieval: queries are classified, exact IDs short-circuit, and vector and
BM25 rankings are fused with Reciprocal Rank Fusion under a similarity
threshold that adapts to the query and to recent results.

Run 'agentmem serve' to expose the memory tools over MCP (stdio).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("agentmem version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Memory data directory (default ~/.agentmem/data)")
	cmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.agentmem/logs/")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write a CPU profile to `file`")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write a heap profile to `file` on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write an execution trace to `file`")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newExplainCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profiler = s
	}
	if !debugMode {
		return nil
	}
	cleanup, err := logging.SetupDefault(logging.ServerConfig("debug"))
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("debug_logging_enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Debug("debug_logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	if profiler != nil {
		err := profiler.Stop()
		profiler = nil
		if err != nil {
			return fmt.Errorf("failed to write profiles: %w", err)
		}
	}
	return nil
}

// newRenderer builds a renderer for cmd's stdout.
func newRenderer(cmd *cobra.Command, format string) *ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithNoColor(noColorFlag),
		ui.WithFormat(ui.ParseFormat(format))))
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		ui.NewRenderer(ui.NewConfig(os.Stderr, ui.WithNoColor(noColorFlag))).Error(err)
	}
	return err
}
