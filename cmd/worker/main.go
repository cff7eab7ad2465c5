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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cassiomorais/payrecon/internal/bootstrap"
	"github.com/cassiomorais/payrecon/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payrecon/internal/infrastructure/redis"
	"github.com/cassiomorais/payrecon/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payrecon-worker", "payrecon_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	repos := app.Repositories()
	cfg := app.Config.Worker

	relay := worker.NewOutboxRelay(
		repos.Outbox,
		infraRedis.NewStreamProducer(app.Redis),
		repos.Tx,
		cfg.BatchSize,
		cfg.OutboxPollInterval,
		app.Metrics,
		observability.Component(app.Logger, "outbox_relay"),
	)
	stale := worker.NewStaleMonitor(repos.Attempts, cfg.StaleAfter, cfg.StaleCheckInterval, app.Metrics,
		observability.Component(app.Logger, "stale_monitor"))
	janitor := worker.NewJanitor([]worker.Cleanup{
		worker.Retain("webhook_events", app.Config.Webhook.EventRetention, repos.Events.DeleteBefore),
		worker.Retain("outbox", cfg.OutboxRetention, repos.Outbox.DeletePublishedBefore),
		{Table: "idempotency_keys", Delete: repos.Idempotency.DeleteExpired},
	}, cfg.CleanupInterval, app.Metrics, observability.Component(app.Logger, "janitor"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(gCtx) })
	g.Go(func() error { return stale.Run(gCtx) })
	g.Go(func() error { return janitor.Run(gCtx) })

	if cfg.MetricsPort > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return nil
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	app.Logger.Info().
		Str("stream", infraRedis.AttemptStream).
		Int("batch_size", cfg.BatchSize).
		Msg("Worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
