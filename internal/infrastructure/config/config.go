package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

// Config is the root configuration structure for kvstore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig contains the key/value database settings.
type DatabaseConfig struct {
	// Dir is the directory holding the database file.
	Dir string `yaml:"dir"`

	// Name is the database file name within Dir.
	Name string `yaml:"name"`

	// Mode is "create", "readwrite" or "readonly".
	Mode string `yaml:"mode"`

	// Driver is "sqlite3" or "zombiezen".
	Driver string `yaml:"driver"`

	// WALMode switches newly created files to write-ahead-log journaling.
	WALMode bool `yaml:"wal_mode"`

	// MaxConnections is the connection pool ceiling.
	MaxConnections int `yaml:"max_connections"`

	// WriteLockTimeout bounds the wait for the write lock (milliseconds).
	WriteLockTimeout int `yaml:"write_lock_timeout"`

	// BusyTimeout is the engine's own lock wait (milliseconds).
	BusyTimeout int `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// MaxBodyBytes limits request bodies (values, queries, batches).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig contains MQTT broker connection settings for the change feed.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for transaction telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Database open modes accepted in DatabaseConfig.Mode.
const (
	ModeCreate    = "create"
	ModeReadWrite = "readwrite"
	ModeReadOnly  = "readonly"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); a missing file is skipped
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KVSTORE_SECTION_KEY
// For example: KVSTORE_DATABASE_DIR, KVSTORE_API_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dir:              "./data",
			Name:             "kvstore.db",
			Mode:             ModeCreate,
			Driver:           string(database.DriverSQLite3),
			WALMode:          true,
			MaxConnections:   5,
			WriteLockTimeout: 3000,
			BusyTimeout:      2500,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBodyBytes: 1 << 20,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "kvstore",
			},
			QoS:         1,
			TopicPrefix: "kvstore",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "kvstore",
			Bucket:        "kvstore",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KVSTORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("KVSTORE_DATABASE_DIR"); v != "" {
		cfg.Database.Dir = v
	}
	if v := os.Getenv("KVSTORE_DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("KVSTORE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}

	// API
	if v := os.Getenv("KVSTORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// MQTT
	if v := os.Getenv("KVSTORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KVSTORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KVSTORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("KVSTORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("KVSTORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Dir == "" {
		errs = append(errs, "database.dir is required")
	}
	if c.Database.Name == "" || strings.ContainsRune(c.Database.Name, os.PathSeparator) {
		errs = append(errs, "database.name must be a plain file name")
	}
	switch c.Database.Mode {
	case ModeCreate, ModeReadWrite, ModeReadOnly:
	default:
		errs = append(errs, "database.mode must be create, readwrite or readonly")
	}
	switch database.Driver(c.Database.Driver) {
	case database.DriverSQLite3, database.DriverZombiezen:
	default:
		errs = append(errs, "database.driver must be sqlite3 or zombiezen")
	}
	if c.Database.MaxConnections < 1 {
		errs = append(errs, "database.max_connections must be at least 1")
	}
	if c.Database.WriteLockTimeout < 1 {
		errs = append(errs, "database.write_lock_timeout must be positive")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// OpenFlags returns the database open flags for Database.Mode.
func (d DatabaseConfig) OpenFlags() database.OpenFlags {
	switch d.Mode {
	case ModeReadOnly:
		return database.OpenReadOnly
	case ModeReadWrite:
		return database.OpenReadWrite
	default:
		return database.DefaultFlags
	}
}

// GetWriteLockTimeout returns the write lock timeout as a Duration.
func (d DatabaseConfig) GetWriteLockTimeout() time.Duration {
	return time.Duration(d.WriteLockTimeout) * time.Millisecond
}

// GetBusyTimeout returns the engine busy timeout as a Duration.
func (d DatabaseConfig) GetBusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeout) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
