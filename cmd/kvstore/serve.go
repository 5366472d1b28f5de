package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/kvstore/internal/api"
	"github.com/nerrad567/kvstore/internal/infrastructure/config"
	"github.com/nerrad567/kvstore/internal/infrastructure/influxdb"
	"github.com/nerrad567/kvstore/internal/infrastructure/logging"
	"github.com/nerrad567/kvstore/internal/kvdb"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), a.cfg, a.log)
		},
	}
}

// run is the server lifecycle, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//   - log: Application logger
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log.Info("starting kvstore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	s, err := connectSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	// Registered first so it runs after the database is closed and no
	// more transaction events can arrive.
	defer s.Close()

	db, err := kvdb.Open(ctx, databaseConfig(cfg.Database, log, s.Observers()))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database opened",
		"path", db.Path(),
		"driver", cfg.Database.Driver,
		"max_connections", cfg.Database.MaxConnections,
		"wal", db.Stats().WAL,
	)

	if s.influx != nil {
		statsCtx, stopStats := context.WithCancel(ctx)
		statsDone := make(chan struct{})
		go func() {
			defer close(statsDone)
			reportPoolStats(statsCtx, s.influx, db, time.Duration(cfg.InfluxDB.FlushInterval)*time.Second)
		}()
		defer func() {
			stopStats()
			<-statsDone
		}()
	}

	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		DB:      db,
		Checks:  s.HealthChecks(),
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	<-ctx.Done()

	// Deferred closes run in reverse order:
	// 1. API server (drains in-flight requests)
	// 2. Database
	// 3. Change feed, MQTT and InfluxDB
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// reportPoolStats writes a pool snapshot to InfluxDB every interval until
// ctx is cancelled.
func reportPoolStats(ctx context.Context, client *influxdb.Client, db *kvdb.Database, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.WritePoolStats(db.Path(), db.Stats())
		}
	}
}
