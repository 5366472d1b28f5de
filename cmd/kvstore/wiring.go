package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/kvstore/internal/api"
	"github.com/nerrad567/kvstore/internal/infrastructure/config"
	"github.com/nerrad567/kvstore/internal/infrastructure/database"
	"github.com/nerrad567/kvstore/internal/infrastructure/influxdb"
	"github.com/nerrad567/kvstore/internal/infrastructure/logging"
	"github.com/nerrad567/kvstore/internal/infrastructure/mqtt"
	"github.com/nerrad567/kvstore/internal/kvdb"
)

// databaseConfig converts the database section into a kvdb.Config.
func databaseConfig(cfg config.DatabaseConfig, log *logging.Logger, observers []kvdb.Observer) kvdb.Config {
	return kvdb.Config{
		Dir:              cfg.Dir,
		Name:             cfg.Name,
		Flags:            cfg.OpenFlags(),
		WALMode:          kvdb.Bool(cfg.WALMode),
		Driver:           database.Driver(cfg.Driver),
		MaxConnections:   cfg.MaxConnections,
		WriteLockTimeout: cfg.GetWriteLockTimeout(),
		BusyTimeout:      cfg.GetBusyTimeout(),
		Logger:           log.Component("kvdb"),
		Observers:        observers,
	}
}

// sinks holds the optional transaction observers and their clients.
type sinks struct {
	mqtt   *mqtt.Client
	feed   *mqtt.ChangeFeed
	influx *influxdb.Client
	log    *logging.Logger
}

// connectSinks connects the enabled MQTT change feed and InfluxDB
// telemetry. On error everything already connected is closed.
func connectSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) (*sinks, error) {
	s := &sinks{log: log}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttLog := log.Component("mqtt")
		client.SetLogger(mqttLog)
		s.mqtt = client
		s.feed = mqtt.NewChangeFeed(client, client.Topics(), mqtt.FeedOptions{
			QoS:    byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0-2
			Logger: mqttLog,
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Debug("MQTT change feed disabled")
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		s.influx = client
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Debug("InfluxDB telemetry disabled")
	}

	return s, nil
}

// Observers returns the connected sinks as transaction observers.
func (s *sinks) Observers() []kvdb.Observer {
	var observers []kvdb.Observer
	if s.feed != nil {
		observers = append(observers, s.feed)
	}
	if s.influx != nil {
		observers = append(observers, s.influx)
	}
	return observers
}

// HealthChecks returns the connected sinks keyed by component name.
func (s *sinks) HealthChecks() map[string]api.HealthChecker {
	checks := make(map[string]api.HealthChecker)
	if s.mqtt != nil {
		checks["mqtt"] = s.mqtt
	}
	if s.influx != nil {
		checks["influxdb"] = s.influx
	}
	return checks
}

// Close drains the change feed before disconnecting MQTT, then flushes
// InfluxDB. Call it after the database is closed.
func (s *sinks) Close() {
	if s.feed != nil {
		if err := s.feed.Close(); err != nil {
			s.log.Error("error closing change feed", "error", err)
		}
		s.log.Info("change feed closed", "published", s.feed.Published(), "dropped", s.feed.Dropped())
	}
	if s.mqtt != nil {
		if err := s.mqtt.Close(); err != nil {
			s.log.Error("error closing MQTT", "error", err)
		}
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			s.log.Error("error closing InfluxDB", "error", err)
		}
	}
}

// openDatabase opens the configured database with the given observers.
func openDatabase(ctx context.Context, a *app, observers []kvdb.Observer) (*kvdb.Database, error) {
	db, err := kvdb.Open(ctx, databaseConfig(a.cfg.Database, a.log, observers))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
