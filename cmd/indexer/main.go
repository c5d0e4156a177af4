package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TreeCityWes/xburn-dashboard/buildinfo"
	"github.com/TreeCityWes/xburn-dashboard/internal/chains"
	"github.com/TreeCityWes/xburn-dashboard/pkg/analytics"
	"github.com/TreeCityWes/xburn-dashboard/pkg/database"
	"github.com/TreeCityWes/xburn-dashboard/pkg/logging"
	"github.com/TreeCityWes/xburn-dashboard/pkg/metrics"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore/impl/system"
	"github.com/rs/zerolog/log"
)

func main() {
	config := setupConfig()
	logging.SetupLogger(buildinfo.GitCommit, config.Log.Debug, config.Log.Human)

	if err := metrics.SetupInstrumentation(":"+config.Metrics.Port, "xburn-indexer"); err != nil {
		log.Fatal().
			Err(err).
			Str("port", config.Metrics.Port).
			Msg("could not setup instrumentation")
	}

	db, err := database.Open(config.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", config.DB.Path).Msg("opening database")
	}
	store := system.New(db)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("closing store")
		}
	}()

	ctx := context.Background()
	manager := chains.NewManager(store, chains.EthclientDial)
	if err := manager.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("initializing chain manager")
	}

	var engine *analytics.Engine
	if config.Analytics.Enabled {
		engine = analytics.New(store)
		if err := engine.Start(); err != nil {
			log.Fatal().Err(err).Msg("starting analytics engine")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received, closing gracefully")

	closeCtx, cls := context.WithTimeout(ctx, time.Second*30)
	defer cls()
	if engine != nil {
		engine.Stop()
	}
	if err := manager.Close(closeCtx); err != nil {
		log.Error().Err(err).Msg("closing chain manager")
	}
}
