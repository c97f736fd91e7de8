// Package main is the navixmind CLI: it hosts the agent core that fronts
// a reasoning engine over JSON-RPC, persists conversations, enforces rate
// and cost limits, and replays queries queued while offline.
//
// Basic usage:
//
//	navixmind serve --config navixmind.yaml
//	navixmind usage export --output usage.csv
//	navixmind queue list
//
// Environment variables:
//
//   - NAVIXMIND_ACCESS_TOKEN: access token for the remote engine
//   - NAVIXMIND_API_KEY: inference API key forwarded to the engine
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "navixmind",
		Short:        "navixmind - on-device AI assistant core",
		Long:         "navixmind runs the agent session core: conversation storage,\nrate and cost limiting, native tool dispatch, offline queueing, and\nthe JSON-RPC channel to a reasoning engine.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildUsageCmd(),
		buildQueueCmd(),
	)
	return rootCmd
}
