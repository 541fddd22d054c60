package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"concierge/internal/config"
	"concierge/internal/logging"
	"concierge/internal/session"
)

var (
	cyan  = color.New(color.FgCyan).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "concierge",
		Short: "Conversational support backend with voice escalation",
		Long:  "concierge serves the insurance support assistant over HTTP and websocket transports, and can run a local voice session against the same conversation engine.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVoiceCommand())
	return root
}

// loadConfig reads configuration and installs the process logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetDefault(logger)
	return cfg, logger, nil
}

func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	return session.NewStore(ctx, cfg.Store)
}
