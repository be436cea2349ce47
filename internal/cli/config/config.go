// Package config implements the 'gprofiler-agent config' commands.
package config

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/DanielAmmar/gprofiler/internal/cli/helpers"
	"github.com/DanielAmmar/gprofiler/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the agent configuration",
		Long: `Inspect the agent configuration.

Configuration Priority:
  1. Command-line flags (highest)
  2. GPROFILER_* environment variables
  3. Configuration file (/etc/gprofiler/agent.yaml or --config)
  4. Built-in defaults`,
	}
	cmd.PersistentFlags().StringVarP(&path, "config", "c", "", "Configuration file (default /etc/gprofiler/agent.yaml)")

	cmd.AddCommand(newShowCmd(&path))
	cmd.AddCommand(newValidateCmd(&path))

	return cmd
}

// newShowCmd creates the 'config show' command.
func newShowCmd(path *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*path)
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), cfg, helpers.OutputFormat(format))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, []helpers.OutputFormat{
		helpers.FormatYAML,
		helpers.FormatJSON,
	})

	return cmd
}

func showConfig(w io.Writer, cfg *config.Config, format helpers.OutputFormat) error {
	if format == helpers.FormatYAML {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	return formatter.Format(cfg, w)
}

// newValidateCmd creates the 'config validate' command.
func newValidateCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration and check every field, including the Java safemode
settings that would otherwise only fail at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*path)
			if err != nil {
				return err
			}
			return validateConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func validateConfig(w io.Writer, cfg *config.Config) error {
	err := cfg.Validate()
	if err == nil {
		sm, _ := cfg.SafemodeConfig()
		_, _ = fmt.Fprintf(w, "✓ Configuration is valid (java safemode %s)\n", sm)
		return nil
	}

	var multi *config.MultiValidationError
	if errors.As(err, &multi) {
		for _, e := range multi.Errors {
			_, _ = fmt.Fprintf(w, "✗ %s: %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration has %d invalid fields", len(multi.Errors))
	}
	return err
}
