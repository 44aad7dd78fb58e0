package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
cli:
  path: "/opt/smartthings/bin/smartthings"
  timeout: 15s
  extra_args: ["--json"]
polling:
  interval: 20s
  shutdown_grace: 8s
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 9090
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CLI.Path != "/opt/smartthings/bin/smartthings" {
		t.Errorf("CLI.Path = %q, want %q", cfg.CLI.Path, "/opt/smartthings/bin/smartthings")
	}
	if cfg.CLI.Timeout != 15*time.Second {
		t.Errorf("CLI.Timeout = %v, want %v", cfg.CLI.Timeout, 15*time.Second)
	}
	if len(cfg.CLI.ExtraArgs) != 1 || cfg.CLI.ExtraArgs[0] != "--json" {
		t.Errorf("CLI.ExtraArgs = %v, want [--json]", cfg.CLI.ExtraArgs)
	}
	if cfg.Polling.Interval != 20*time.Second {
		t.Errorf("Polling.Interval = %v, want %v", cfg.Polling.Interval, 20*time.Second)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	// Unset fields keep their defaults
	if cfg.MQTT.TopicPrefix != "stsync" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "stsync")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
polling:
  interval: 0s
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for zero polling.interval, got nil")
	}
	if !strings.Contains(err.Error(), "polling.interval") {
		t.Errorf("Load() error = %v, want mention of polling.interval", err)
	}
}

func TestLoad_ExpandsHomeInCLIPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("cli:\n  path: \"~/bin/smartthings\"\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := filepath.Join(home, "bin", "smartthings")
	if cfg.CLI.Path != want {
		t.Errorf("CLI.Path = %q, want %q", cfg.CLI.Path, want)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		input string
		want  string
	}{
		{"~/smartthings", filepath.Join(home, "smartthings")},
		{"~", home},
		{"/usr/local/bin/smartthings", "/usr/local/bin/smartthings"},
		{"relative/smartthings", "relative/smartthings"},
		{"~other/smartthings", "~other/smartthings"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandHome(tt.input); got != tt.want {
				t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing cli path",
			mutate:  func(c *Config) { c.CLI.Path = "" },
			wantErr: true,
		},
		{
			name:    "zero cli timeout",
			mutate:  func(c *Config) { c.CLI.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative poll interval",
			mutate:  func(c *Config) { c.Polling.Interval = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero shutdown grace",
			mutate:  func(c *Config) { c.Polling.ShutdownGrace = 0 },
			wantErr: true,
		},
		{
			name: "graceful timeout not shorter than shutdown grace",
			mutate: func(c *Config) {
				c.CLI.GracefulTimeout = 5 * time.Second
				c.Polling.ShutdownGrace = 5 * time.Second
			},
			wantErr: true,
		},
		{
			name:    "invalid QoS",
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
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.API.Auth.JWTSecret = "too-short" },
			wantErr: true,
		},
		{
			name:    "jwt secret long enough",
			mutate:  func(c *Config) { c.API.Auth.JWTSecret = strings.Repeat("k", MinJWTSecretLength) },
			wantErr: false,
		},
		{
			name: "port ignored when api disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("STSYNC_CLI_PATH", "/custom/smartthings")
	t.Setenv("STSYNC_POLL_INTERVAL", "45s")
	t.Setenv("STSYNC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("STSYNC_MQTT_USERNAME", "testuser")
	t.Setenv("STSYNC_MQTT_PASSWORD", "testpass")
	t.Setenv("STSYNC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("STSYNC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("STSYNC_API_HOST", "192.168.1.1")
	t.Setenv("STSYNC_JWT_SECRET", "env-secret")
	t.Setenv("STSYNC_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.CLI.Path != "/custom/smartthings" {
		t.Errorf("CLI.Path = %q, want %q", cfg.CLI.Path, "/custom/smartthings")
	}
	if cfg.Polling.Interval != 45*time.Second {
		t.Errorf("Polling.Interval = %v, want %v", cfg.Polling.Interval, 45*time.Second)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Auth.JWTSecret != "env-secret" {
		t.Errorf("API.Auth.JWTSecret = %q, want %q", cfg.API.Auth.JWTSecret, "env-secret")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_InvalidInterval(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("STSYNC_POLL_INTERVAL", "often")

	if err := applyEnvOverrides(cfg); err == nil {
		t.Error("applyEnvOverrides() expected error for unparsable interval, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.CLI.Path != "~/smartthings" {
		t.Errorf("defaultConfig CLI.Path = %q, want %q", cfg.CLI.Path, "~/smartthings")
	}
	if cfg.Polling.Interval != 10*time.Second {
		t.Errorf("defaultConfig Polling.Interval = %v, want 10s", cfg.Polling.Interval)
	}
	if cfg.MQTT.Enabled {
		t.Error("defaultConfig MQTT.Enabled = true, want false")
	}
	if cfg.Database.Enabled {
		t.Error("defaultConfig Database.Enabled = true, want false")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if !cfg.API.Panel.Enabled || cfg.API.Panel.Dir != "" {
		t.Errorf("defaultConfig API.Panel = %+v, want enabled with embedded assets", cfg.API.Panel)
	}
}
