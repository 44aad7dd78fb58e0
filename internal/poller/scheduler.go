package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/stsync/internal/device"
)

// Scheduler errors.
var (
	// ErrShutdownTimeout is returned by Stop when fetches were still running
	// after the grace period.
	ErrShutdownTimeout = errors.New("poller: shutdown grace period elapsed")

	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("poller: already started")

	// ErrNotRunning is returned by Reload before Start or after Stop.
	ErrNotRunning = errors.New("poller: not running")
)

// Defaults applied by New for zero Config values.
const (
	DefaultInterval      = 10 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// Executor runs a CLI invocation and returns its stdout.
// *gateway.Gateway satisfies it.
type Executor interface {
	Execute(ctx context.Context, args ...string) (string, error)
}

// Metrics receives fetch instrumentation.
type Metrics interface {
	ObserveFetch(outcome Outcome, duration time.Duration)
	SetInFlight(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveFetch(Outcome, time.Duration) {}
func (noopMetrics) SetInFlight(int)                     {}

// Logger defines the logging interface for the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds scheduler timing.
type Config struct {
	// Interval is the time between ticks.
	Interval time.Duration

	// ShutdownGrace bounds how long Stop waits for in-flight fetches.
	ShutdownGrace time.Duration
}

// Scheduler drives periodic status fetches.
//
// Each tick dispatches one fetch for every listed device that does not
// already have one running. Fetches run concurrently and report to the
// Reconciler; a failed fetch leaves the device's previous state in place.
type Scheduler struct {
	exec       Executor
	registry   *device.Registry
	reconciler *Reconciler
	group      *TaskGroup
	config     Config

	logger  Logger
	metrics Metrics

	reloads singleflight.Group

	mu       sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopped  bool
}

// New creates a Scheduler. Call Start to begin polling.
func New(exec Executor, registry *device.Registry, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	s := &Scheduler{
		exec:       exec,
		registry:   registry,
		reconciler: NewReconciler(registry),
		group:      NewTaskGroup(),
		config:     cfg,
		logger:     noopLogger{},
		metrics:    noopMetrics{},
	}
	s.group.onPanic = s.recoverFetch
	s.group.onChange = func(n int) { s.metrics.SetInFlight(n) }
	return s
}

// SetLogger sets the logger for the scheduler and its reconciler.
// Must be called before Start.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
	s.reconciler.SetLogger(logger)
}

// SetMetrics sets the metrics sink. Must be called before Start.
func (s *Scheduler) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	s.metrics = m
}

// Start launches the timer loop. The first tick runs immediately and loads
// the device list; later ticks follow every Interval until Stop is called or
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx != nil {
		return ErrAlreadyStarted
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})

	go s.loop(s.runCtx, s.loopDone)

	s.logger.Info("poller started",
		"interval", s.config.Interval,
		"shutdown_grace", s.config.ShutdownGrace,
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Tick runs one poll cycle immediately and returns how many fetches it
// started. It returns 0 before Start and after Stop.
func (s *Scheduler) Tick() int {
	ctx := s.context()
	if ctx == nil {
		return 0
	}
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) int {
	if !s.registry.Loaded() {
		// No list yet; keep retrying until one loads
		if err := s.reload(ctx); err != nil {
			return 0
		}
	}

	devices := s.registry.Devices()
	started := 0
	for _, d := range devices {
		if s.dispatch(ctx, d.ID, TriggerTick) {
			started++
		}
	}

	s.logger.Debug("poll tick",
		"devices", len(devices),
		"dispatched", started,
		"skipped", len(devices)-started,
	)
	return started
}

// RefreshDevice starts a fetch for one device outside the normal tick.
// It returns false if the device is unknown, a fetch for it is already
// running, or the scheduler is not running.
func (s *Scheduler) RefreshDevice(id string) bool {
	ctx := s.context()
	if ctx == nil || !s.registry.Has(id) {
		return false
	}
	return s.dispatch(ctx, id, TriggerRefresh)
}

func (s *Scheduler) dispatch(ctx context.Context, id string, trigger Trigger) bool {
	return s.group.TryGo(id, func(fetchID uuid.UUID) {
		s.fetch(ctx, id, fetchID, trigger)
	})
}

func (s *Scheduler) fetch(ctx context.Context, id string, fetchID uuid.UUID, trigger Trigger) {
	start := time.Now()

	out, err := s.exec.Execute(ctx, "devices:status", id)
	var state device.DeviceState
	if err == nil {
		state, err = device.ParseStatus(out)
	}

	duration := time.Since(start)
	outcome := s.reconciler.Apply(Result{
		DeviceID: id,
		FetchID:  fetchID,
		Trigger:  trigger,
		State:    state,
		Err:      err,
		Duration: duration,
	})
	s.metrics.ObserveFetch(outcome, duration)
}

func (s *Scheduler) recoverFetch(id string, recovered any) {
	s.logger.Error("status fetch panicked", "device_id", id, "panic", fmt.Sprint(recovered))
}

// Reload fetches the device list and replaces the Registry's set.
// Concurrent calls share a single CLI invocation. Fetches in flight for
// devices that disappear are discarded when they complete.
func (s *Scheduler) Reload(ctx context.Context) error {
	runCtx := s.context()
	if runCtx == nil {
		return ErrNotRunning
	}

	// Stop cancels the CLI call even if the caller's ctx outlives it
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	return s.reload(ctx)
}

func (s *Scheduler) reload(ctx context.Context) error {
	_, err, shared := s.reloads.Do("devices", func() (any, error) {
		out, err := s.exec.Execute(ctx, "devices")
		if err != nil {
			s.registry.ReportLoadError(err)
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		devices, err := s.registry.LoadDevices(out)
		if err != nil {
			return nil, fmt.Errorf("loading devices: %w", err)
		}
		return devices, nil
	})
	if shared {
		s.logger.Debug("device list reload coalesced")
	}
	return err
}

// InFlight returns the fetches currently running, oldest first.
func (s *Scheduler) InFlight() []InFlightFetch {
	return s.group.Active()
}

// Stop ends polling. It stops the timer, refuses new fetches, cancels the
// ones in flight and waits up to ShutdownGrace for them to return.
//
// If the grace period (or ctx) expires first, the returned error wraps
// ErrShutdownTimeout and names the abandoned devices. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	loopDone := s.loopDone
	s.mu.Unlock()

	s.group.Close()
	inFlight := s.group.Len()
	cancel()

	s.logger.Info("stopping poller", "in_flight", inFlight)

	graceCtx, graceCancel := context.WithTimeout(ctx, s.config.ShutdownGrace)
	defer graceCancel()

	select {
	case <-loopDone:
	case <-graceCtx.Done():
	}

	if err := s.group.Wait(graceCtx); err != nil {
		abandoned := s.group.Active()
		ids := make([]string, 0, len(abandoned))
		for _, f := range abandoned {
			ids = append(ids, f.DeviceID)
		}
		s.logger.Warn("abandoning in-flight fetches", "devices", ids)
		return fmt.Errorf("%w: %d fetch(es) abandoned: %s", ErrShutdownTimeout, len(ids), strings.Join(ids, ", "))
	}

	s.logger.Info("poller stopped")
	return nil
}

// context returns the run context, or nil when not running.
func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil || s.stopped || s.runCtx.Err() != nil {
		return nil
	}
	return s.runCtx
}
