package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/phrazzld/pdfscan/internal/api"
	"github.com/phrazzld/pdfscan/internal/events"
	"github.com/phrazzld/pdfscan/internal/platform/postgres"
	"github.com/phrazzld/pdfscan/internal/service"
	"github.com/phrazzld/pdfscan/internal/upload"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const readHeaderTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the observer gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.cleanup()

			return app.serve(cmd.Context())
		},
	}
}

// serve runs the HTTP server and the notification listener until ctx is
// done or either fails.
func (app *application) serve(ctx context.Context) error {
	cfg := app.config
	log := app.logger

	bus := events.NewBus(cfg.Notify.SubscriberBuffer, log)
	defer bus.Close()

	pool, err := postgres.OpenListenerPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	listener := postgres.NewListener(pool, cfg.Notify.Channel, bus, log)
	// Notifications missed while disconnected are unrecoverable; observers
	// reconnect and receive a fresh baseline.
	listener.OnReconnect = bus.DisconnectAll

	submissions, err := service.NewSubmissionService(
		app.tasks,
		app.content,
		upload.NewValidator(cfg.Storage.MaxUploadBytes),
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create submission service: %w", err)
	}
	queries := service.NewTaskService(app.tasks, app.reports, log)

	gateway := api.NewGateway(bus, queries, api.GatewayConfig{BaselineLimit: cfg.Notify.BaselineLimit}, log)
	handler := api.NewTaskHandler(api.TaskHandlerConfig{
		Submissions:        submissions,
		Tasks:              queries,
		Subscribers:        gateway.Subscribers,
		AnalysisConfigured: cfg.RequireAnalysisKey() == nil,
		MaxUploadBytes:     cfg.Storage.MaxUploadBytes,
	}, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, gateway, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Run(gctx)
	})

	g.Go(func() error {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Gateway connections are hijacked and not tracked by Shutdown.
		bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("server shutdown completed")
		return nil
	})

	return g.Wait()
}
