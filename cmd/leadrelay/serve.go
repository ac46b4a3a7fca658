package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeventeLantos/lead-relay/internal/api"
	"github.com/LeventeLantos/lead-relay/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, lead workers and the periodic drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	pool := worker.New(cfg.Worker.Workers, cfg.Worker.QueueSize)

	h := api.NewHandler(api.Deps{
		Scheduler:      a.sched,
		Store:          a.store,
		Queue:          a.dispatcher,
		Leads:          a.processor,
		Pool:           pool,
		Deliveries:     a.deliveries,
		CountryCode:    a.gateway.CountryCode(),
		DrainBatch:     cfg.Drain.BatchSize,
		PurgeAfterDays: cfg.Drain.PurgeAfterDays,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Drain.Interval > 0 {
		a.sched.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("lead-relay listening",
			"addr", cfg.Server.Address,
			"drain_interval", cfg.Drain.Interval.String(),
			"batch", cfg.Drain.BatchSize,
			"redis", a.deliveries != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	a.sched.Stop()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		slog.Warn("lead workers did not finish in time", "err", err)
	}
	return nil
}
