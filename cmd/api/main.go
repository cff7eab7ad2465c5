package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/payrecon/internal/bootstrap"
	"github.com/cassiomorais/payrecon/internal/controller"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payrecon-api", "payrecon")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc := app.Services()
	app.Logger.Info().Interface("gateways", svc.Gateways.Supported()).Msg("Gateways registered")

	cfg := app.Config
	router := controller.NewRouter(controller.RouterDeps{
		Database: app.Pool,
		Redis: controller.PingerFunc(func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}),
		Payments:         svc.Orchestrator,
		Webhooks:         svc.Processor,
		Endpoints:        svc.Endpoints,
		IdempotencyStore: svc.Repos.Idempotency,
		IdempotencyTTL:   cfg.Worker.IdempotencyTTL,
		Metrics:          app.Metrics,
		JWTSecret:        cfg.Auth.JWTSecret,
		CORSConfig:       cfg.Server.CORS,
		RequestTimeout:   cfg.Server.RequestTimeout,
		Webhook:          cfg.Webhook,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
