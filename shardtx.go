// Command shardtx hosts the multi-shard transaction coordinator's
// operational surface: placement resolution, catalog cache control, the
// post-decision failure log and its sinks, and metrics.
//
// The binary does not run transactions itself. Transactions are driven by
// the enclosing transaction manager that embeds package coordinator and
// delivers lifecycle events. A standalone process therefore lists no
// active transactions and records no new failures; the failure endpoints
// serve entries already in its data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/admin"
	"github.com/vlubarsky/citus/catalog"
	"github.com/vlubarsky/citus/cfg"
	"github.com/vlubarsky/citus/coordinator"
	"github.com/vlubarsky/citus/id"
	"github.com/vlubarsky/citus/publisher"
	_ "github.com/vlubarsky/citus/publisher/sink"
	"github.com/vlubarsky/citus/remote"
	"github.com/vlubarsky/citus/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
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

	log.Info().Msg("shardtx - multi-shard transaction coordinator")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Placement catalog
	cat, closeCatalog, err := catalog.FromConfig(cfg.Config.Catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize placement catalog")
		return
	}
	defer closeCatalog()

	// Connections to placements
	provider, err := remote.NewSQLProvider(cfg.Config.Connection)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize connection provider")
		return
	}
	defer provider.Close()

	dialect, err := remote.DialectFor(cfg.Config.Connection.Dialect)
	if err != nil {
		log.Fatal().Err(err).Msg("Unsupported connection dialect")
		return
	}

	// Post-decision failure reporting
	failures, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     cfg.Config.DataDir,
		NodeID:      cfg.Config.NodeID,
		LogEnabled:  cfg.Config.Failures.LogEnabled,
		SinkConfigs: cfg.Config.Failures.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize failure reporting")
		return
	}
	if err := failures.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start failure sinks")
		return
	}
	defer failures.Stop()

	coord, err := coordinator.NewCoordinator(coordinator.Options{
		NodeID:      cfg.Config.NodeID,
		Catalog:     cat,
		Provider:    provider,
		Dialect:     dialect,
		Protocol:    coordinator.ProtocolFunc(configuredProtocol),
		Reporter:    failures.Reporter(),
		IDs:         id.NewClockGenerator(cfg.Config.NodeID),
		FanoutLimit: cfg.Config.Coordinator.FanoutLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize coordinator")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if cfg.Config.Admin.Enabled {
		var store admin.FailureStore
		if fl := failures.Log(); fl != nil {
			store = fl
		}

		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewAdminHandlers(coord, store, cat))

		server = &http.Server{
			Addr:              net.JoinHostPort(cfg.Config.Admin.Address, strconv.Itoa(cfg.Config.Admin.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin server failed")
				stop()
			}
		}()
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("protocol", configuredProtocol().String()).
		Str("dialect", dialect.Name()).
		Str("catalog", cfg.Config.Catalog.Source).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Coordinator is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}

	if active := coord.Active(); len(active) > 0 {
		log.Warn().Int("transactions", len(active)).Msg("Exiting with transactions still holding participant connections")
	}
}

// configuredProtocol reads the commit protocol from the live configuration.
// Validate has already rejected unknown values.
func configuredProtocol() coordinator.CommitProtocol {
	p, err := coordinator.ParseCommitProtocol(cfg.Config.Coordinator.CommitProtocol)
	if err != nil {
		return coordinator.OnePhase
	}
	return p
}
