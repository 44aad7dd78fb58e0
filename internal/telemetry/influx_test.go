package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/infrastructure/influxdb"
)

type fakeStateWriter struct {
	mu     sync.Mutex
	points []influxdb.DeviceStatePoint
}

func (w *fakeStateWriter) WriteDeviceState(p influxdb.DeviceStatePoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func TestInfluxRecorder(t *testing.T) {
	w := &fakeStateWriter{}
	r := NewInfluxRecorder(w)

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	r.OnDeviceListLoaded([]device.Device{{ID: "d1", Label: "Porch"}})
	r.OnDeviceStateChanged("d1", device.DeviceState{HealthStatus: device.HealthOnline, SwitchState: device.SwitchOff, LastUpdated: at})
	r.OnDeviceStateChanged("d9", device.DeviceState{HealthStatus: device.HealthOffline, SwitchState: device.SwitchUnknown})
	r.OnLoadError("ignored")

	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}

	want := influxdb.DeviceStatePoint{
		DeviceID:     "d1",
		Label:        "Porch",
		HealthStatus: "online",
		SwitchState:  "off",
		Time:         at,
	}
	if w.points[0] != want {
		t.Errorf("point = %+v, want %+v", w.points[0], want)
	}
	if w.points[1].Label != "" || w.points[1].HealthStatus != "offline" {
		t.Errorf("unknown device point = %+v", w.points[1])
	}
}
