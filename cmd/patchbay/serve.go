package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "github.com/aretw0/patchbay/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the topology and serve the HTTP control surface",
	Long: `Starts every declared node, reconciles the declared links and serves the
control surface (state, node configuration, links, events, metrics) over HTTP.
On exit every link is removed and every node is shut down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if cmd.Flags().Changed("listen") {
			cfg.Listen = listen
		}
		resume, _ := cmd.Flags().GetBool("resume")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			// Teardown must run even though ctx is already cancelled.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.close(shutdownCtx); err != nil {
				logger.Error("teardown incomplete", "err", err)
			}
		}()

		if err := a.load(ctx, resume); err != nil {
			return err
		}
		a.watchReplicas(ctx)

		handler := httpAdapter.NewHandler(a.bay,
			httpAdapter.WithStreams(a.streams),
			httpAdapter.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})),
			httpAdapter.WithLogger(logger.With("component", "http")),
		)
		srv := &http.Server{
			Addr:              cfg.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("control surface listening", "address", srv.Addr, "backend", cfg.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "err", err)
			_ = srv.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Address to listen on (default from config, :8080)")
	serveCmd.Flags().Bool("resume", false, "Start from the saved state instead of the declaration")
}
