package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/louloulin/agentmem/internal/config"
	"github.com/louloulin/agentmem/internal/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the agentmem configuration.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/agentmem/config.yaml)
  3. Project config (.agentmem.yaml in the working directory)
  4. Environment variables (AGENTMEM_*)`,
		Example: `  agentmem config init
  agentmem config show --json
  agentmem config restore`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default user configuration",
		Long: `Write the built-in defaults to the user configuration file.

An existing file is kept unless --force is given; with --force it is
backed up first. Up to three backups are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if config.UserConfigExists() && !force {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at %s\nUse --force to overwrite it (a backup is kept).\n", config.GetUserConfigPath())
				return nil
			}

			backup, err := config.InitUserConfig(force)
			if err != nil {
				return errors.ConfigError("cannot write user configuration", err)
			}
			if backup != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Backed up previous configuration to %s\n", backup)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", config.GetUserConfigPath())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  `Show the configuration after merging defaults, files, environment and flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List user config backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No backups found")
				return nil
			}
			for _, b := range backups {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), b)
			}
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user config from a backup",
		Long: `Replace the user configuration with a backup. Without an argument the
newest backup is used. The current file is backed up before it is replaced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var backup string
			if len(args) == 1 {
				backup = args[0]
			} else {
				backups, err := config.ListUserConfigBackups()
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					return errors.New(errors.ErrCodeConfigNotFound, "no config backups found", nil).
						WithSuggestion("Backups are created by 'agentmem config init --force'")
				}
				backup = backups[0]
			}

			if err := config.RestoreUserConfig(backup); err != nil {
				return errors.ConfigError("cannot restore configuration", err).WithDetail("backup", backup)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", config.GetUserConfigPath(), backup)
			return nil
		},
	}
}
