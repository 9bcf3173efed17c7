// Package cmd defines the CLI commands for the mediafetch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediafetch",
		Short: "Fetch-and-save service for media URLs.",
		Long: `mediafetch accepts media URLs over HTTP, rewrites them to their
full-resolution form, and downloads them with bounded concurrency,
automatic retries and per-host rate limiting.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: mediafetch.yaml in ., /etc/mediafetch or $HOME/.mediafetch)")

	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
