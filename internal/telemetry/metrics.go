package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/poller"
)

const namespace = "stsync"

// Metrics exposes engine activity as Prometheus metrics.
//
// It implements poller.Metrics, command.Metrics and device.Observer.
// Collectors live on a private registry so tests and embedders never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	commands      *prometheus.CounterVec
	devices       prometheus.Gauge
	deviceOnline  *prometheus.GaugeVec
	stateChanges  prometheus.Counter
	loadErrors    prometheus.Counter
}

// NewMetrics creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Status fetches by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of status fetches, CLI call included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Status fetches currently running.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands by capability and outcome.",
		}, []string{"capability", "outcome"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the current device list.",
		}),
		deviceOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_online",
			Help:      "1 while the device reports online, 0 otherwise.",
		}, []string{"device_id"}),
		stateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_updates_total",
			Help:      "Reconciled device states written to the registry.",
		}),
		loadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_list_load_errors_total",
			Help:      "Failed device list loads.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetches,
		m.fetchDuration,
		m.inFlight,
		m.commands,
		m.devices,
		m.deviceOnline,
		m.stateChanges,
		m.loadErrors,
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch implements poller.Metrics.
func (m *Metrics) ObserveFetch(outcome poller.Outcome, d time.Duration) {
	m.fetches.WithLabelValues(string(outcome)).Inc()
	m.fetchDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

// SetInFlight implements poller.Metrics.
func (m *Metrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

// ObserveCommand implements command.Metrics.
func (m *Metrics) ObserveCommand(capability, outcome string) {
	if capability == "" {
		capability = "none"
	}
	m.commands.WithLabelValues(capability, outcome).Inc()
}

// OnDeviceListLoaded implements device.Observer. Series for devices that
// left the list are dropped.
func (m *Metrics) OnDeviceListLoaded(devices []device.Device) {
	m.devices.Set(float64(len(devices)))
	m.deviceOnline.Reset()
	for _, d := range devices {
		m.deviceOnline.WithLabelValues(d.ID).Set(0)
	}
}

// OnDeviceStateChanged implements device.Observer.
func (m *Metrics) OnDeviceStateChanged(deviceID string, state device.DeviceState) {
	m.stateChanges.Inc()
	online := 0.0
	if state.HealthStatus == device.HealthOnline {
		online = 1
	}
	m.deviceOnline.WithLabelValues(deviceID).Set(online)
}

// OnLoadError implements device.Observer.
func (m *Metrics) OnLoadError(string) {
	m.loadErrors.Inc()
}
