package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/stsync/internal/device"
)

// Defaults for HistoryConfig zero values.
const (
	DefaultHistoryRetention = 7 * 24 * time.Hour
	DefaultPruneInterval    = time.Hour
	DefaultHistoryQueueSize = 256

	recordTimeout = 5 * time.Second
)

// ErrRecorderStopped is returned by Start after Stop.
var ErrRecorderStopped = errors.New("telemetry: history recorder stopped")

// Logger defines the logging interface for telemetry sinks.
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

// HistoryConfig configures a HistoryRecorder.
type HistoryConfig struct {
	// Retention is how long entries are kept.
	Retention time.Duration

	// PruneInterval is how often old entries are deleted.
	PruneInterval time.Duration

	// QueueSize bounds the states waiting to be written. When full, new
	// states are dropped and counted.
	QueueSize int
}

type historyItem struct {
	deviceID string
	state    device.DeviceState
}

// HistoryRecorder persists every reconciled state.
//
// Notifications arrive under registry locks, so OnDeviceStateChanged only
// enqueues; a single worker goroutine writes to the repository and prunes
// entries older than the retention period.
type HistoryRecorder struct {
	device.NoopObserver

	repo   device.StateHistoryRepository
	config HistoryConfig
	logger Logger

	// mu guards queue against close while enqueueing.
	mu      sync.RWMutex
	queue   chan historyItem
	closed  bool
	started bool
	done    chan struct{}

	dropped atomic.Int64
}

// NewHistoryRecorder creates a recorder. Call Start to begin writing.
func NewHistoryRecorder(repo device.StateHistoryRepository, cfg HistoryConfig) *HistoryRecorder {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultHistoryRetention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultHistoryQueueSize
	}

	return &HistoryRecorder{
		repo:   repo,
		config: cfg,
		logger: noopLogger{},
		queue:  make(chan historyItem, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (h *HistoryRecorder) SetLogger(logger Logger) {
	h.logger = logger
}

// Start launches the writer goroutine. It returns once the goroutine is
// running; the goroutine exits after Stop has drained the queue.
func (h *HistoryRecorder) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrRecorderStopped
	}
	if h.started {
		return nil
	}
	h.started = true

	go h.run(context.WithoutCancel(ctx))
	return nil
}

// OnDeviceStateChanged implements device.Observer. It never blocks.
func (h *HistoryRecorder) OnDeviceStateChanged(deviceID string, state device.DeviceState) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	select {
	case h.queue <- historyItem{deviceID: deviceID, state: state}:
	default:
		n := h.dropped.Add(1)
		h.logger.Warn("state history queue full, dropping entry",
			"device_id", deviceID,
			"dropped_total", n,
		)
	}
}

// Dropped returns how many states were discarded because the queue was full.
func (h *HistoryRecorder) Dropped() int64 {
	return h.dropped.Load()
}

func (h *HistoryRecorder) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.config.PruneInterval)
	defer ticker.Stop()

	h.prune(ctx)

	for {
		select {
		case item, ok := <-h.queue:
			if !ok {
				return
			}
			h.record(ctx, item)
		case <-ticker.C:
			h.prune(ctx)
		}
	}
}

func (h *HistoryRecorder) record(ctx context.Context, item historyItem) {
	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := h.repo.RecordStateChange(recordCtx, item.deviceID, item.state); err != nil {
		h.logger.Error("error recording state history",
			"device_id", item.deviceID,
			"error", err,
		)
	}
}

func (h *HistoryRecorder) prune(ctx context.Context) {
	n, err := h.Prune(ctx)
	if err != nil {
		h.logger.Error("error pruning state history", "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("pruned state history", "deleted", n, "retention", h.config.Retention)
	}
}

// Prune deletes entries older than the retention period.
func (h *HistoryRecorder) Prune(ctx context.Context) (int64, error) {
	pruneCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	return h.repo.PruneHistory(pruneCtx, h.config.Retention)
}

// Stop stops accepting states and waits for queued ones to be written, or
// for ctx to expire. Entries still queued at that point are lost.
func (h *HistoryRecorder) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.queue)
	started := h.started
	h.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
