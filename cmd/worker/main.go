// Package main provides the CLI entry point for the lead-magnet worker.
//
// The worker drives one Job at a time through its workflow's steps,
// either in batch mode (every step in a single invocation) or in single
// mode (one invocation per step, under an external scheduler). It talks
// to three external collaborators: a record store (job/workflow/form
// state), a blob store (generated artifacts), and a secret store (per
// tenant API keys for tool calls).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// main is the entry point for the worker CLI.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Lead-magnet generation worker",
		Long: `Drives a per-tenant lead-magnet Job through its workflow's AI-generation,
webhook, and final-assembly steps, then dispatches delivery.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildCreateJobCmd(),
		buildRunBatchCmd(),
		buildRunStepCmd(),
	)

	return rootCmd
}
