// stsync - SmartThings device status sync engine
//
// This is the main entry point for the stsync daemon. It keeps a live
// in-memory picture of every SmartThings device by driving the SmartThings
// CLI on a fixed interval, and exposes that picture over:
//   - a REST and WebSocket API, plus a small web dashboard
//   - retained MQTT topics (optional)
//   - InfluxDB points and a SQLite state history (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	_ "github.com/nerrad567/stsync/migrations"

	"github.com/nerrad567/stsync/internal/api"
	"github.com/nerrad567/stsync/internal/bridge"
	"github.com/nerrad567/stsync/internal/command"
	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/gateway"
	"github.com/nerrad567/stsync/internal/infrastructure/config"
	"github.com/nerrad567/stsync/internal/infrastructure/database"
	"github.com/nerrad567/stsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/stsync/internal/infrastructure/logging"
	"github.com/nerrad567/stsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/stsync/internal/panel"
	"github.com/nerrad567/stsync/internal/poller"
	"github.com/nerrad567/stsync/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the components that stop after the poller.
const shutdownTimeout = 10 * time.Second

func main() {
	// Cancel on Ctrl+C and SIGTERM so run can shut down cleanly
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree: the root command runs the daemon and
// "token" issues API bearer tokens.
func newRootCmd() *cobra.Command {
	var configPath, envFile string

	root := &cobra.Command{
		Use:           "stsync",
		Short:         "Keep SmartThings device status in sync",
		Long:          "stsync polls the SmartThings CLI for device status and serves it over HTTP, WebSocket and MQTT.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $STSYNC_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of STSYNC_* variables loaded before the config; missing is fine")

	root.AddCommand(newTokenCmd(&configPath))
	return root
}

// newTokenCmd prints a signed API token using api.auth.jwt_secret.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.API.Auth.JWTSecret == "" {
				return errors.New("api.auth.jwt_secret is not set; tokens are not needed")
			}

			token, err := api.IssueToken(cfg.API.Auth.JWTSecret, subject, scope, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "stsync", "token subject")
	cmd.Flags().StringVar(&scope, "scope", api.ScopeRead, "token scope: read or control")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// run is the actual application logic, separated from main for testability.
//
// Components are started in dependency order and stopped in reverse through
// deferred calls once ctx is cancelled:
//  1. API server
//  2. Poller (in-flight fetches get polling.shutdown_grace)
//  3. MQTT bridge
//  4. State history recorder
//  5. InfluxDB, MQTT and database connections
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting stsync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// CLI gateway
	gw := gateway.New(gateway.Config{
		Binary:          cfg.CLI.Path,
		ExtraArgs:       cfg.CLI.ExtraArgs,
		Timeout:         cfg.CLI.Timeout,
		GracefulTimeout: cfg.CLI.GracefulTimeout,
	})
	gw.SetLogger(log.Component("gateway"))
	if availErr := gw.Available(); availErr != nil {
		// Not fatal: the poller keeps retrying the list load, and the
		// failure is published as a load error.
		log.Warn("SmartThings CLI not found", "path", cfg.CLI.Path, "error", availErr)
	}

	metrics := telemetry.NewMetrics()
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	observers := device.Observers{metrics, hub}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		topics := mqttClient.Topics()
		mqttBridge, err = bridge.New(bridge.Options{
			Client: mqttClient,
			Topics: &topics,
			QoS:    mqttClient.QoS(),
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		mqttBridge.SetLogger(log.Component("bridge"))
		observers = append(observers, mqttBridge)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, telemetry.NewInfluxRecorder(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open state history database (optional)
	var db *database.DB
	var historyRepo device.StateHistoryRepository
	if cfg.Database.Enabled {
		db, err = database.Open(database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		historyRepo = device.NewSQLiteStateHistoryRepository(db.DB)
		recorder := telemetry.NewHistoryRecorder(historyRepo, telemetry.HistoryConfig{
			Retention: cfg.Database.Retention,
		})
		recorder.SetLogger(log.Component("history"))
		if startErr := recorder.Start(ctx); startErr != nil {
			return fmt.Errorf("starting history recorder: %w", startErr)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := recorder.Stop(stopCtx); stopErr != nil {
				log.Error("error stopping history recorder", "error", stopErr)
			}
		}()
		observers = append(observers, recorder)
	} else {
		log.Info("state history disabled")
	}

	// Device registry, fed by the poller and observed by every sink above
	registry := device.NewRegistry(observers)
	registry.SetLogger(log.Component("registry"))

	scheduler := poller.New(gw, registry, poller.Config{
		Interval:      cfg.Polling.Interval,
		ShutdownGrace: cfg.Polling.ShutdownGrace,
	})
	scheduler.SetLogger(log.Component("poller"))
	scheduler.SetMetrics(metrics)

	dispatcher := command.NewDispatcher(gw, registry, scheduler)
	dispatcher.SetLogger(log.Component("command"))
	dispatcher.SetMetrics(metrics)

	if mqttBridge != nil {
		// The bridge observes the registry, so it can only learn about the
		// dispatcher once both exist.
		mqttBridge.SetCommander(dispatcher)
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := mqttBridge.Stop(stopCtx); stopErr != nil {
				log.Error("error stopping MQTT bridge", "error", stopErr)
			}
		}()
	}

	if startErr := scheduler.Start(ctx); startErr != nil {
		return fmt.Errorf("starting poller: %w", startErr)
	}
	defer func() {
		// Stop applies polling.shutdown_grace on top of this context
		if stopErr := scheduler.Stop(context.Background()); stopErr != nil {
			log.Warn("poller stopped with abandoned fetches", "error", stopErr)
		}
	}()

	// Start API server (optional)
	if cfg.API.Enabled {
		var dashboard http.Handler
		if cfg.API.Panel.Enabled {
			dashboard = panel.Handler(cfg.API.Panel.Dir)
		}

		accessLog, closeAccessLog, logErr := openAccessLog(cfg.API.AccessLog)
		if logErr != nil {
			return logErr
		}
		defer closeAccessLog() //nolint:errcheck // best effort on shutdown

		apiServer, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Registry:  registry,
			Poller:    scheduler,
			Commands:  dispatcher,
			Hub:       hub,
			History:   historyRepo,
			Metrics:   metrics.Handler(),
			Panel:     dashboard,
			AccessLog: accessLog,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("stsync stopped")
	return nil
}

// resolveConfigPath returns the configuration file path: the --config flag
// if given, then the STSYNC_CONFIG environment variable, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("STSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openAccessLog resolves api.access_log to a writer. The returned close
// function is always safe to call.
func openAccessLog(dest string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch dest {
	case "":
		return nil, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	}

	f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, noop, fmt.Errorf("opening access log: %w", err)
	}
	return f, f.Close, nil
}

// healthChecker is implemented by every optional connection.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies the enabled infrastructure connections.
//
// Any argument may be nil when its feature is disabled. The first failure
// is returned.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checks := []struct {
		name    string
		enabled bool
		checker healthChecker
	}{
		{"database", db != nil, db},
		{"mqtt", mqttClient != nil, mqttClient},
		{"influxdb", influxClient != nil, influxClient},
	}

	for _, c := range checks {
		if !c.enabled {
			continue
		}
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
