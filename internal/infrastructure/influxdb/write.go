package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceState is the measurement written by WriteDeviceState.
const MeasurementDeviceState = "device_state"

// DeviceStatePoint is one reconciled device state.
type DeviceStatePoint struct {
	DeviceID     string
	Label        string
	HealthStatus string
	SwitchState  string
	Time         time.Time
}

// WriteDeviceState records a device state change.
//
// Tags: device_id, label. Fields: online and switch_on (0/1, for graphing),
// health and switch (raw values).
func (c *Client) WriteDeviceState(p DeviceStatePoint) {
	if !c.IsConnected() {
		return
	}

	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{"device_id": p.DeviceID}
	if p.Label != "" {
		tags["label"] = p.Label
	}

	point := write.NewPoint(
		MeasurementDeviceState,
		tags,
		map[string]interface{}{
			"online":    boolToInt(p.HealthStatus == "online"),
			"switch_on": boolToInt(p.SwitchState == "on"),
			"health":    p.HealthStatus,
			"switch":    p.SwitchState,
		},
		ts,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
