package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/api"
	"github.com/thatsimonsguy/sprinkler-controller/internal/app"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/datadog"
	"github.com/thatsimonsguy/sprinkler-controller/internal/logging"
	"github.com/thatsimonsguy/sprinkler-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer logFile.Close()

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("db", cfg.DBPath).
		Str("addr", cfg.Addr()).
		Str("tz", cfg.Location().String()).
		Msg("Starting sprinkler controller")

	datadog.InitMetrics(cfg.Datadog.Addr, cfg.Datadog.Namespace, cfg.Datadog.Tags)
	defer datadog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise controller")
	}
	defer a.Close()

	a.Dispatcher.Start()

	server := api.NewServer(a.Service, cfg.Addr())
	go func() {
		if err := server.Start(); err != nil {
			shutdown.ShutdownWithError(context.Background(), a.Dispatcher, a.Actuator, err, "API server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown incomplete")
	}
	shutdown.Shutdown(shutdownCtx, a.Dispatcher, a.Actuator)
}
