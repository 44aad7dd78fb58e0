package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for stsync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	CLI       CLIConfig       `yaml:"cli"`
	Polling   PollingConfig   `yaml:"polling"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CLIConfig describes how the external SmartThings CLI is invoked.
type CLIConfig struct {
	// Path is the executable location. A leading "~/" is expanded against
	// the user's home directory during Load.
	Path string `yaml:"path"`

	// Timeout bounds a single invocation so a hung CLI cannot hold a
	// device's fetch slot forever.
	Timeout time.Duration `yaml:"timeout"`

	// GracefulTimeout is how long a cancelled invocation gets after SIGTERM
	// before its process group is killed.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// ExtraArgs are appended to every invocation (e.g. "--json").
	ExtraArgs []string `yaml:"extra_args"`
}

// PollingConfig controls the status fetch scheduler.
type PollingConfig struct {
	// Interval is the time between ticks.
	Interval time.Duration `yaml:"interval"`

	// ShutdownGrace bounds how long Stop waits for in-flight fetches.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// MQTTConfig contains MQTT broker connection settings.
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

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains settings for the optional SQLite state history.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	Retention   time.Duration `yaml:"retention"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     AuthConfig       `yaml:"auth"`
	Panel    PanelConfig      `yaml:"panel"`

	// AccessLog writes a Combined Log Format line per request to "stdout",
	// "stderr" or a file path. Empty disables it.
	AccessLog string `yaml:"access_log"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// friends. Enable only behind a reverse proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// AuthConfig contains API token settings.
//
// When JWTSecret is empty the API is open, which suits a daemon bound to
// localhost. When set, /api/v1 requires an HS256 bearer token signed with it.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MinJWTSecretLength is the shortest accepted api.auth.jwt_secret.
const MinJWTSecretLength = 32

// PanelConfig controls the device dashboard served outside /api/v1.
type PanelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir serves the dashboard from disk instead of the embedded copy.
	Dir string `yaml:"dir"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: STSYNC_SECTION_KEY
// For example: STSYNC_CLI_PATH, STSYNC_POLL_INTERVAL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.CLI.Path = expandHome(cfg.CLI.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with the CLI path expanded.
// It is what Load starts from before the file is applied.
func Default() *Config {
	cfg := defaultConfig()
	cfg.CLI.Path = expandHome(cfg.CLI.Path)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		CLI: CLIConfig{
			Path:            "~/smartthings",
			Timeout:         30 * time.Second,
			GracefulTimeout: 2 * time.Second,
		},
		Polling: PollingConfig{
			Interval:      10 * time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "stsync",
			},
			QoS:         1,
			TopicPrefix: "stsync",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/stsync.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   7 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Panel: PanelConfig{Enabled: true},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: STSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// CLI
	if v := os.Getenv("STSYNC_CLI_PATH"); v != "" {
		cfg.CLI.Path = v
	}

	// Polling
	if v := os.Getenv("STSYNC_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STSYNC_POLL_INTERVAL: %w", err)
		}
		cfg.Polling.Interval = d
	}

	// MQTT
	if v := os.Getenv("STSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("STSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("STSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("STSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Database
	if v := os.Getenv("STSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("STSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("STSYNC_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// Logging
	if v := os.Getenv("STSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
// The path is returned unchanged if the home directory cannot be determined.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	// CLI validation
	if c.CLI.Path == "" {
		errs = append(errs, "cli.path is required")
	}
	if c.CLI.Timeout <= 0 {
		errs = append(errs, "cli.timeout must be positive")
	}
	if c.CLI.GracefulTimeout < 0 {
		errs = append(errs, "cli.graceful_timeout must not be negative")
	}

	// Polling validation
	if c.Polling.Interval <= 0 {
		errs = append(errs, "polling.interval must be positive")
	}
	if c.Polling.ShutdownGrace <= 0 {
		errs = append(errs, "polling.shutdown_grace must be positive")
	} else if c.CLI.GracefulTimeout >= c.Polling.ShutdownGrace {
		// A cancelled fetch must be able to finish terminating its
		// subprocess before shutdown stops waiting for it.
		errs = append(errs, "cli.graceful_timeout must be shorter than polling.shutdown_grace")
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

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if secret := c.API.Auth.JWTSecret; secret != "" && len(secret) < MinJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", MinJWTSecretLength))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
