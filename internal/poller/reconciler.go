package poller

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/gateway"
)

// Trigger identifies what started a fetch.
type Trigger string

// Trigger values.
const (
	TriggerTick    Trigger = "tick"
	TriggerRefresh Trigger = "refresh"
)

// Outcome classifies how a fetch result was applied.
type Outcome string

// Outcome values.
const (
	OutcomeSuccess      Outcome = "success"
	OutcomeCommandError Outcome = "command_error"
	OutcomeParseError   Outcome = "parse_error"
	OutcomeDiscarded    Outcome = "discarded"
	OutcomeCanceled     Outcome = "canceled"
)

// Result is the product of one status fetch.
type Result struct {
	DeviceID string
	FetchID  uuid.UUID
	Trigger  Trigger

	// State is valid only when Err is nil.
	State device.DeviceState
	Err   error

	Duration time.Duration
}

// StateSetter is the part of the Registry the Reconciler writes through.
type StateSetter interface {
	Set(id string, state device.DeviceState) error
}

// Reconciler applies fetch results to the Registry.
//
// It owns the error policy for status fetches: every failure is logged at a
// level chosen by its kind and the device's previous state is kept.
type Reconciler struct {
	registry StateSetter
	logger   Logger
	now      func() time.Time
}

// NewReconciler creates a Reconciler writing to registry.
func NewReconciler(registry StateSetter) *Reconciler {
	return &Reconciler{
		registry: registry,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// Apply reconciles res and reports what happened.
func (r *Reconciler) Apply(res Result) Outcome {
	attrs := []any{
		"device_id", res.DeviceID,
		"fetch_id", res.FetchID,
		"trigger", res.Trigger,
		"duration", res.Duration,
	}

	if res.Err != nil {
		return r.failure(res.Err, attrs)
	}

	state := res.State
	state.LastUpdated = r.now().UTC()

	if err := r.registry.Set(res.DeviceID, state); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			r.logger.Debug("discarding status for device no longer listed", attrs...)
		} else {
			r.logger.Error("error updating device status", append(attrs, "error", err)...)
		}
		return OutcomeDiscarded
	}

	r.logger.Debug("device status reconciled",
		append(attrs,
			"health", state.HealthStatus,
			"switch", state.SwitchState,
		)...,
	)
	return OutcomeSuccess
}

func (r *Reconciler) failure(err error, attrs []any) Outcome {
	attrs = append(attrs, "error", err)

	if errors.Is(err, device.ErrMalformed) {
		r.logger.Warn("device status payload malformed", attrs...)
		return OutcomeParseError
	}

	kind, _ := gateway.KindOf(err)
	switch kind {
	case gateway.KindCanceled:
		r.logger.Debug("status fetch canceled", attrs...)
		return OutcomeCanceled
	case gateway.KindNotFound:
		r.logger.Error("smartthings cli not found", attrs...)
	default:
		r.logger.Warn("error fetching device status", attrs...)
	}
	return OutcomeCommandError
}
