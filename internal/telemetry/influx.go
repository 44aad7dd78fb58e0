package telemetry

import (
	"sync"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/infrastructure/influxdb"
)

// StateWriter accepts device state points. *influxdb.Client satisfies it.
type StateWriter interface {
	WriteDeviceState(p influxdb.DeviceStatePoint)
}

// InfluxRecorder writes a device_state point for every reconciled state.
// Writes are handed to the client's non-blocking batch API, so observing
// never waits on the network.
type InfluxRecorder struct {
	writer StateWriter

	mu     sync.RWMutex
	labels map[string]string
}

// NewInfluxRecorder creates a recorder writing through w.
func NewInfluxRecorder(w StateWriter) *InfluxRecorder {
	return &InfluxRecorder{
		writer: w,
		labels: make(map[string]string),
	}
}

// OnDeviceListLoaded implements device.Observer; it remembers labels so
// points can be tagged with them.
func (r *InfluxRecorder) OnDeviceListLoaded(devices []device.Device) {
	labels := make(map[string]string, len(devices))
	for _, d := range devices {
		labels[d.ID] = d.Label
	}

	r.mu.Lock()
	r.labels = labels
	r.mu.Unlock()
}

// OnDeviceStateChanged implements device.Observer.
func (r *InfluxRecorder) OnDeviceStateChanged(deviceID string, state device.DeviceState) {
	r.mu.RLock()
	label := r.labels[deviceID]
	r.mu.RUnlock()

	r.writer.WriteDeviceState(influxdb.DeviceStatePoint{
		DeviceID:     deviceID,
		Label:        label,
		HealthStatus: string(state.HealthStatus),
		SwitchState:  string(state.SwitchState),
		Time:         state.LastUpdated,
	})
}

// OnLoadError implements device.Observer.
func (r *InfluxRecorder) OnLoadError(string) {}
