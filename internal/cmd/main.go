package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/formats"
	"github.com/dialectica/realtime/internal/gateway"
	"github.com/dialectica/realtime/internal/room"
	"github.com/dialectica/realtime/internal/stats"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("CONFIG_FILE", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	catalog := formats.Defaults()
	if cfg.FormatsFile != "" {
		catalog, err = formats.Load(cfg.FormatsFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.FormatsFile).Msg("failed to load format catalog")
		}
	}
	log.Info().Strs("formats", catalog.Names()).Msg("format catalog loaded")

	var sink room.SummarySink = room.NopSink{}
	var publisher *stats.Publisher
	if cfg.Stats.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		publisher, err = stats.NewPublisher(ctx, cfg.statsConfig())
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect stats publisher")
		}
		sink = publisher
	}

	clock := clockwork.NewRealClock()
	hub := gateway.NewHub()
	store := room.NewStore(clock, cfg.roomConfig(), catalog, hub, sink)
	registry := gateway.NewRegistry(clock, store)
	handler := gateway.NewHandler(cfg.connectionConfig(), registry, hub, store)

	srv := setupServer(cfg, handler)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("coordinator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	store.Close()
	if publisher != nil {
		publisher.Close()
	}
	log.Info().Msg("coordinator stopped")
}

func setupLogging() {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}
