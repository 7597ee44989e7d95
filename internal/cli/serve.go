package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storagedesk/internal/autopay"
	"storagedesk/internal/database"
	"storagedesk/internal/middleware"
	"storagedesk/internal/router"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, if enabled, the daily autopay scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")

			a, closeApp, err := openApp()
			if err != nil {
				return err
			}
			defer closeApp()
			if migrate {
				if err := database.AutoMigrate(a.DB); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			limiter := middleware.NewInMemoryRateLimiter(a.Cfg.Server.RateLimit, a.Cfg.Server.RateLimitEvery)
			go limiter.Cleanup(ctx)

			if a.Cfg.Autopay.ScheduleEnabled {
				go autopay.NewScheduler(a.Runner, a.Cfg.Autopay.RunHourUTC, a.Log).Start(ctx)
			}

			srv := router.Server(a.Cfg, a.Handler(limiter))
			errc := make(chan error, 1)
			go func() {
				a.Log.Info("server listening", zap.String("addr", srv.Addr), zap.String("gateway", a.Gateway.Name()))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}
			a.Log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.Log.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().Bool("migrate", true, "auto-migrate the schema on start")
	return cmd
}

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp()
			if err != nil {
				return err
			}
			defer closeApp()
			if err := database.AutoMigrate(a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
