package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediafetch/internal/app"
	"github.com/JakeFAU/mediafetch/internal/config"
	"github.com/JakeFAU/mediafetch/internal/logging"
)

// newServeCmd creates the 'serve' subcommand, which runs the engine and the
// HTTP API until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download service",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = config.Discover()
	}
	cfg, settings, err := config.Open(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if path != "" {
		logger.Info("config loaded", zap.String("path", path))
	}

	a, err := app.New(cmd.Context(), cfg, settings, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	return a.Run(cmd.Context())
}
