// Package main provides the gprofiler-agent binary: Java profiling through
// async-profiler with crash-safe attachment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DanielAmmar/gprofiler/internal/cli/config"
	"github.com/DanielAmmar/gprofiler/internal/cli/profile"
	"github.com/DanielAmmar/gprofiler/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gprofiler-agent",
		Short:         "gProfiler agent - safe continuous profiling of JVMs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Register profiling subcommands directly on root for a flat hierarchy
	// (e.g. "gprofiler-agent snapshot").
	profile.RegisterCommands(rootCmd)

	rootCmd.AddCommand(config.NewConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("gProfiler agent version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
			cmd.Printf("async-profiler: %s\n", version.AsyncProfilerVersion)
		},
	}
}
