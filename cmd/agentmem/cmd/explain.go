package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

func newExplainCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Show the similarity threshold a query would use",
		Long: `Classify a query and print every term of its adaptive threshold:
the per-type base, the length and complexity adjustments, the historical
adjustment and any special rule that fired.

No memories are read, so a fresh process has no historical adjustment.`,
		Example: `  agentmem explain "what did alice order last week"
  agentmem explain 咖啡 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closeLog := newLogger(cfg)
			defer closeLog()

			engine, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}
			return newRenderer(cmd, format).Explain(query, engine.ExplainThreshold(query))
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}
