// Package cli holds the storagedesk command tree.
package cli

import (
	"storagedesk/config"
	"storagedesk/internal/app"
	"storagedesk/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "storagedesk",
		Short:         "Self-storage rental back office",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		ServeCmd(),
		MigrateCmd(),
		AutopayCmd(),
		StaffCmd(),
	)
	return root
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openApp builds the app and returns a cleanup that closes it and flushes logs.
func openApp() (*app.App, func(), error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			log.Warn("closing", zap.Error(err))
		}
		_ = log.Sync()
	}, nil
}
