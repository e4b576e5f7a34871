package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/supplier-ledger/api"
	"github.com/warp/supplier-ledger/ledger"
	"github.com/warp/supplier-ledger/logging"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. On SIGINT/SIGTERM the server stops accepting
connections, waits for in-flight requests (APP_SHUTDOWN_TIMEOUT), stops the
reconciler and closes the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				opts.cfg.AppAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (env APP_ADDR)")
	return cmd
}

// serve blocks until ctx is cancelled or the listener fails.
func serve(ctx context.Context, opts *rootOptions) error {
	cfg, log := opts.cfg, opts.log

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	reconciler := ledger.NewReconciler(a.svc, cfg.ReconcileInterval, logging.WithComponent("reconciler"))
	reconciler.Start()
	defer reconciler.Stop()

	handler := api.NewHandler(a.svc, reconciler)
	handler.Health = a.store.Ping
	router := api.NewRouter(handler, api.RouterConfig{
		Logger:             logging.WithComponent("http"),
		Metrics:            a.metrics,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.AppAddr).
			Str("store", cfg.StoreDriver).
			Str("version", version).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
