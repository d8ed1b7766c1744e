package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/venue-concierge/internal/adapters/httpapi"
	"github.com/bnema/venue-concierge/internal/application"
)

func newServeCmd(app *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = app.cfg.GetString("http.listen")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			maintenance := application.StandardMaintenance(
				app.logger.With("component", "maintenance"),
				app.clock,
				app.catalog,
				app.grants, app.cfg.GetDuration("grants.sweep_interval"),
				app.sessions, app.cfg.GetDuration("sessions.sweep_interval"), app.cfg.GetDuration("sessions.idle_max"),
			)
			maintenanceDone := make(chan struct{})
			go func() {
				defer close(maintenanceDone)
				if err := maintenance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					app.logger.Error("maintenance stopped", "error", err)
				}
			}()

			handler := httpapi.NewHandler(httpapi.Dependencies{
				Sessions:      app.sessions,
				Grants:        app.grants,
				Notifications: app.hub,
				Catalog:       app.catalog,
				Logger:        app.logger.With("component", "http"),
			})

			shutdownTimeout := app.cfg.GetDuration("http.shutdown_timeout")
			serveErr := httpapi.Serve(ctx, listen, handler.Router(), shutdownTimeout, app.logger)

			stop()
			<-maintenanceDone

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			app.shutdown(closeCtx)

			return serveErr
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to http.listen)")
	return cmd
}
