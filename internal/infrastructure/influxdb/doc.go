// Package influxdb writes device state telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with connection checks, batched non-blocking
// writes and an error callback for asynchronous write failures.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState(influxdb.DeviceStatePoint{
//	    DeviceID:     id,
//	    HealthStatus: "online",
//	    SwitchState:  "on",
//	})
//
// Writes are batched by batch_size and flush_interval from config.
package influxdb
