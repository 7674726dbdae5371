package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	pflag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	setupLogging()

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	server := setupServer(config, services)

	// Start gateway service (sweeper until ctx is cancelled)
	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := services.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("auction gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", config.Store.Driver).
			Bool("nats", config.NATS.Enabled).
			Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timed out waiting for auction gateway service to stop")
	}
	services.Close()

	log.Info().Msg("auction gateway shutdown complete")
}

// setupLogging configures the global logger from LOG_FORMAT and LOG_LEVEL.
func setupLogging() {
	if strings.EqualFold(getEnv("LOG_FORMAT", "json"), "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
