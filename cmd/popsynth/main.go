// Package main provides the entry point for the popsynth CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stellarforge/popsynth/cmd/popsynth/commands"
	"github.com/stellarforge/popsynth/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "popsynth",
		Short: "Monte Carlo binary-star population synthesis driver",
		Long: `popsynth drives an adaptive population-synthesis experiment: it samples
batches of binary systems, evolves them through an external integrator,
filters the results against astrophysical selection criteria, and
accumulates a converged population until its statistics stabilize.

Commands:
  run       Run the sampling-convergence loop to completion or budget`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "popsynth %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
