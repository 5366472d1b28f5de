package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  dir: "/tmp/kv"
  name: "test.db"
  driver: "zombiezen"
  wal_mode: false
  max_connections: 8
  write_lock_timeout: 500
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
api:
  host: "0.0.0.0"
  port: 9090
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Dir != "/tmp/kv" {
		t.Errorf("Database.Dir = %q, want %q", cfg.Database.Dir, "/tmp/kv")
	}
	if cfg.Database.Driver != "zombiezen" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "zombiezen")
	}
	if cfg.Database.WALMode {
		t.Error("Database.WALMode = true, want false")
	}
	if cfg.Database.GetWriteLockTimeout() != 500*time.Millisecond {
		t.Errorf("GetWriteLockTimeout() = %v, want 500ms", cfg.Database.GetWriteLockTimeout())
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}

	// Unset fields keep their defaults.
	if cfg.Database.BusyTimeout != 2500 {
		t.Errorf("Database.BusyTimeout = %d, want default 2500", cfg.Database.BusyTimeout)
	}
	if cfg.MQTT.TopicPrefix != "kvstore" {
		t.Errorf("MQTT.TopicPrefix = %q, want default %q", cfg.MQTT.TopicPrefix, "kvstore")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v, want defaults", err)
	}
	if cfg.Database.Name != "kvstore.db" {
		t.Errorf("Database.Name = %q, want %q", cfg.Database.Name, "kvstore.db")
	}
	if !cfg.Database.WALMode {
		t.Error("Database.WALMode = false, want true by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
database:
  driver: "postgres"
  max_connections: 0
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"database.driver", "database.max_connections"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KVSTORE_DATABASE_DIR", "/var/lib/kvstore")
	t.Setenv("KVSTORE_DATABASE_DRIVER", "zombiezen")
	t.Setenv("KVSTORE_MQTT_HOST", "mqtt.example")
	t.Setenv("KVSTORE_MQTT_PASSWORD", "secret")
	t.Setenv("KVSTORE_INFLUXDB_TOKEN", "token")
	t.Setenv("KVSTORE_LOG_LEVEL", "debug")

	configPath := writeConfig(t, `
database:
  dir: "/from/file"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Dir != "/var/lib/kvstore" {
		t.Errorf("Database.Dir = %q, want env value", cfg.Database.Dir)
	}
	if cfg.Database.Driver != "zombiezen" {
		t.Errorf("Database.Driver = %q, want env value", cfg.Database.Driver)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example" {
		t.Errorf("MQTT.Broker.Host = %q, want env value", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("MQTT.Auth.Password = %q, want env value", cfg.MQTT.Auth.Password)
	}
	if cfg.InfluxDB.Token != "token" {
		t.Errorf("InfluxDB.Token = %q, want env value", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env value", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing dir",
			mutate:  func(c *Config) { c.Database.Dir = "" },
			wantErr: true,
		},
		{
			name:    "name with separator",
			mutate:  func(c *Config) { c.Database.Name = "sub/kv.db" },
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Database.Mode = "append" },
			wantErr: true,
		},
		{
			name:    "zero write lock timeout",
			mutate:  func(c *Config) { c.Database.WriteLockTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative busy timeout",
			mutate:  func(c *Config) { c.Database.BusyTimeout = -1 },
			wantErr: true,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name: "mqtt enabled without prefix",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.TopicPrefix = ""
			},
			wantErr: true,
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = ""
			},
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_OpenFlags(t *testing.T) {
	tests := []struct {
		mode string
		want database.OpenFlags
	}{
		{ModeCreate, database.DefaultFlags},
		{ModeReadWrite, database.OpenReadWrite},
		{ModeReadOnly, database.OpenReadOnly},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got := DatabaseConfig{Mode: tt.mode}.OpenFlags()
			if got != tt.want {
				t.Errorf("OpenFlags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := Default()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.Database.GetBusyTimeout(); got != 2500*time.Millisecond {
		t.Errorf("GetBusyTimeout() = %v, want 2.5s", got)
	}
}
