// commands.go contains the cobra command definitions; each builder wires
// flags and delegates to its handler.
package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

const defaultConfigName = "navixmind.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		debug       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent core and an interactive chat prompt",
		Long: `Start the agent core: open local storage, connect the reasoning
engine channel, and read queries line by line from stdin. Queries
submitted while the engine is unreachable are queued and replayed
automatically. Shuts down gracefully on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  navixmind serve

  # Start against a remote engine with metrics exposed
  navixmind serve --config remote.yaml --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (empty disables)")
	return cmd
}

func buildUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect recorded API usage",
	}
	cmd.AddCommand(buildUsageExportCmd())
	return cmd
}

func buildUsageExportCmd() *cobra.Command {
	var (
		configPath string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export usage records as CSV",
		Example: `  navixmind usage export
  navixmind usage export --output usage.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsageExport(cmd.Context(), configPath, output)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to stdout)")
	return cmd
}

func buildQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline query queue",
	}
	cmd.AddCommand(buildQueueListCmd(), buildQueueRetryCmd())
	return cmd
}

func buildQueueListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued queries and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildQueueRetryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Return a failed queued query to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return runQueueRetry(cmd.Context(), configPath, id)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}
