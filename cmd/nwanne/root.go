package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"ai-nwanne/internal/app"
	"ai-nwanne/internal/config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "nwanne",
		Short:        "AI Nwanne chatbot and daily wisdom poster",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "Config file path (optional).")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPostCmd())
	return cmd
}

// buildApp loads configuration and wires the application for a subcommand.
func buildApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(ctx, path)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return app.New(ctx, cfg, logger)
}
