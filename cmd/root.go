package cmd

import (
	"fmt"

	"webserver-bench/internal/config"
	"webserver-bench/internal/logging"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X webserver-bench/cmd.Version=...".
var Version = "1.0.0"

func newRootCommand() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "webserver-bench",
		Short:         "HTTP webserver benchmarking tool",
		Long:          "Builds and starts containerized webservers one at a time, waits until they are ready, drives HTTP load scenarios against them and records latency and throughput.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func Execute() error {
	return newRootCommand().Execute()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "webserver-bench %s\n", Version)
		},
	}
}
