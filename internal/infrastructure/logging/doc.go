// Package logging provides structured logging for stsync.
//
// It wraps log/slog so every component logs through the same handler with
// the service and version attached to each entry.
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	pollLog := logger.Component("poller")
//	pollLog.Warn("status fetch failed", "device_id", id, "error", err)
//
// The MQTT password and InfluxDB token are never logged.
package logging
