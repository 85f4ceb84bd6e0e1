package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxpert/engage/admin"
	"github.com/maxpert/engage/cfg"
	"github.com/maxpert/engage/engine"
	"github.com/maxpert/engage/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Engage - async community event engine")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, engine.Options{Config: cfg.Config})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize engine")
		return
	}
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
		return
	}

	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		adminServer, err = admin.NewServer(cfg.Config.Admin.Address, cfg.Config.Admin.Port, admin.NewAdminHandlers(eng))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		adminServer.Start()
	}

	log.Info().
		Str("data_dir", cfg.Config.DataDir).
		Str("store", string(cfg.Config.Store.Driver)).
		Bool("notify", cfg.Config.Notify.Enabled).
		Msg("Engine is operational")

	<-ctx.Done()
	log.Info().Msg("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Config.Workers.ShutdownTimeout())
	defer cancel()

	if adminServer != nil {
		if err := adminServer.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown incomplete")
		}
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Engine stopped with errors")
		os.Exit(1)
	}
	log.Info().Msg("Engine stopped")
}
