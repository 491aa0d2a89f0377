package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/config"
	"github.com/emberwall/emberwall/internal/relay"
	"github.com/emberwall/emberwall/internal/relay/storage"
)

func main() {
	configPath := flag.String("config", "emberwall.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var persister relay.Persister
	if cfg.Database.Enabled {
		repo, err := storage.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer repo.Close()
		persister = repo
	}

	var bridge *relay.Bridge
	var publisher relay.Publisher
	if cfg.NATS.Enabled {
		bridgeCfg := relay.DefaultBridgeConfig()
		bridgeCfg.URL = cfg.NATS.URL
		bridgeCfg.StreamName = cfg.NATS.Stream
		bridge, err = relay.NewBridge(bridgeCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer bridge.Close()
		publisher = bridge
	}

	connCfg := relay.DefaultConnectionConfig()
	connCfg.PingInterval = cfg.Relay.PingInterval
	connCfg.WriteTimeout = cfg.Relay.WriteTimeout
	connCfg.ReadTimeout = cfg.Relay.ReadTimeout
	connCfg.MaxMessageSize = cfg.Relay.MaxMessageSize

	service := relay.NewService(connCfg, clockwork.NewRealClock(), persister, publisher)

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("relay service failed")
		}
	}()
	if bridge != nil {
		go func() {
			if err := bridge.Consume(ctx, service); err != nil {
				log.Error().Err(err).Msg("bridge consumer failed")
			}
		}()
	}

	server := &http.Server{
		Addr:        cfg.Relay.Addr,
		Handler:     service.Handler(),
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("relay shutdown complete")
}
