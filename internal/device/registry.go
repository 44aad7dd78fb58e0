package device

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// slot holds one device's state. Its mutex is the only lock taken when a
// fetch result is reconciled, so unrelated devices never contend.
type slot struct {
	mu      sync.Mutex
	state   DeviceState
	removed bool // set once a reload has replaced this slot
}

// Registry is the single owner of the device set and each device's state.
//
// The device set is replaced wholesale by LoadDevices. Individual states
// are replaced atomically by Set, which notifies the observer while holding
// the device's slot lock so notifications for one device never interleave.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex // protects everything below except slot contents
	order    []Device
	slots    map[string]*slot
	warnings []error
	loadedAt time.Time

	observer Observer
	logger   Logger
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(observer Observer) *Registry {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Registry{
		slots:    make(map[string]*slot),
		observer: observer,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// LoadDevices parses a raw device list and replaces the current set with it.
//
// Every device starts with UnknownState. Invalid records are skipped and
// logged; they are also available from Warnings until the next load. If the
// list itself is malformed the current set is left untouched, observers get
// OnLoadError, and the *ParseError is returned.
func (r *Registry) LoadDevices(raw string) ([]Device, error) {
	devices, warnings, err := ParseDeviceList(raw)
	if err != nil {
		r.ReportLoadError(err)
		return nil, err
	}

	for _, w := range warnings {
		r.logger.Warn("skipping device record", "error", w)
	}

	slots := make(map[string]*slot, len(devices))
	for _, d := range devices {
		slots[d.ID] = &slot{state: UnknownState()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.slots
	r.order = devices
	r.slots = slots
	r.warnings = warnings
	r.loadedAt = time.Now().UTC()

	// Results still in flight for the old slots are discarded by Set
	for _, s := range old {
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
	}

	r.logger.Info("device list loaded", "count", len(devices), "skipped", len(warnings))
	r.notify(func() { r.observer.OnDeviceListLoaded(cloneDevices(devices)) })

	return cloneDevices(devices), nil
}

// ReportLoadError surfaces a failure to obtain the device list.
// The current set is not modified.
func (r *Registry) ReportLoadError(err error) {
	r.logger.Error("error loading devices", "error", err)
	message := fmt.Sprintf("Error loading devices: %v", err)
	r.notify(func() { r.observer.OnLoadError(message) })
}

// Warnings returns the records skipped by the most recent successful load.
func (r *Registry) Warnings() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]error(nil), r.warnings...)
}

// Get returns the current state of a device.
// Returns ErrDeviceNotFound if the device is not in the current set.
func (r *Registry) Get(id string) (DeviceState, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return DeviceState{}, ErrDeviceNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Set replaces a device's state and notifies observers.
//
// The state is normalized first. Returns ErrDeviceNotFound if the device is
// not in the current set, including when a reload removed it while the
// caller's fetch was in flight.
func (r *Registry) Set(id string, state DeviceState) error {
	state = state.Normalize()

	for {
		r.mu.RLock()
		s, ok := r.slots[id]
		r.mu.RUnlock()
		if !ok {
			return ErrDeviceNotFound
		}

		s.mu.Lock()
		if s.removed {
			// Replaced by a reload between lookup and lock; retry against
			// the new set, which may or may not still contain the device.
			s.mu.Unlock()
			continue
		}

		s.state = state
		r.notify(func() { r.observer.OnDeviceStateChanged(id, state) })
		s.mu.Unlock()
		return nil
	}
}

// Has reports whether the device is in the current set.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slots[id]
	return ok
}

// Count returns the number of devices in the current set.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Devices returns the current device set in list order.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneDevices(r.order)
}

// Snapshot returns every device with its current state, in list order.
// Each state is read under its slot lock, so none is partially updated.
func (r *Registry) Snapshot() []DeviceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(r.order))
	for _, d := range r.order {
		s := r.slots[d.ID]
		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		out = append(out, DeviceStatus{Device: d, State: st})
	}
	return out
}

// Lookup returns a device and its state.
// Returns ErrDeviceNotFound if the device is not in the current set.
func (r *Registry) Lookup(id string) (DeviceStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return DeviceStatus{}, ErrDeviceNotFound
	}
	var dev Device
	for _, d := range r.order {
		if d.ID == id {
			dev = d
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return DeviceStatus{Device: dev, State: s.state}, nil
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int                  `json:"total_devices"`
	ByHealthStatus map[HealthStatus]int `json:"by_health_status"`
	Skipped        int                  `json:"skipped_records"`
	Loaded         bool                 `json:"loaded"`
	LoadedAt       time.Time            `json:"loaded_at,omitempty"`
}

// Stats returns current registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.order),
		ByHealthStatus: map[HealthStatus]int{
			HealthOnline:  0,
			HealthOffline: 0,
			HealthUnknown: 0,
		},
		Skipped:  len(r.warnings),
		Loaded:   !r.loadedAt.IsZero(),
		LoadedAt: r.loadedAt,
	}

	for _, s := range r.slots {
		s.mu.Lock()
		stats.ByHealthStatus[s.state.HealthStatus]++
		s.mu.Unlock()
	}

	return stats
}

// Loaded reports whether a device list has ever been loaded successfully.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.loadedAt.IsZero()
}

// notify runs an observer callback, containing any panic so that a faulty
// observer cannot take down a fetch goroutine.
func (r *Registry) notify(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("observer panicked", "panic", fmt.Sprint(rec))
		}
	}()
	fn()
}

func cloneDevices(devices []Device) []Device {
	return append([]Device(nil), devices...)
}
