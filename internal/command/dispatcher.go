package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/gateway"
)

// ErrControlDisabled is returned by Toggle for devices that are not online.
var ErrControlDisabled = errors.New("command: control disabled")

// argPattern restricts capabilities and values so that nothing passed to
// the CLI can be read as a flag.
var argPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Command outcomes reported to Metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeDisabled = "disabled"
)

// Executor runs a CLI invocation. *gateway.Gateway satisfies it.
type Executor interface {
	Execute(ctx context.Context, args ...string) (string, error)
}

// Refresher starts a targeted status fetch. *poller.Scheduler satisfies it.
type Refresher interface {
	RefreshDevice(id string) bool
}

// DeviceSource is the read side of the Registry the dispatcher needs.
type DeviceSource interface {
	Get(id string) (device.DeviceState, error)
}

// Metrics receives command instrumentation.
type Metrics interface {
	ObserveCommand(capability, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(string, string) {}

// Logger defines the logging interface for the dispatcher.
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

// Dispatcher sends device commands.
type Dispatcher struct {
	exec      Executor
	devices   DeviceSource
	refresher Refresher
	metrics   Metrics
	logger    Logger
}

// NewDispatcher creates a Dispatcher. refresher may be nil, in which case
// devices are only refreshed by the regular poll.
func NewDispatcher(exec Executor, devices DeviceSource, refresher Refresher) *Dispatcher {
	return &Dispatcher{
		exec:      exec,
		devices:   devices,
		refresher: refresher,
		metrics:   noopMetrics{},
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics sets the metrics sink.
func (d *Dispatcher) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	d.metrics = m
}

// SendCommand runs capability:value against a device.
//
// It returns device.ErrDeviceNotFound for unknown devices, a
// *device.ValidationError for unsafe arguments, and the gateway's
// *gateway.CommandError (wrapped) when the CLI fails.
func (d *Dispatcher) SendCommand(ctx context.Context, deviceID, capability, value string) error {
	if _, err := d.devices.Get(deviceID); err != nil {
		d.metrics.ObserveCommand(capability, OutcomeInvalid)
		return err
	}
	if err := ValidateArg("capability", capability); err != nil {
		d.metrics.ObserveCommand(capability, OutcomeInvalid)
		return err
	}
	if err := ValidateArg("value", value); err != nil {
		d.metrics.ObserveCommand(capability, OutcomeInvalid)
		return err
	}

	_, err := d.exec.Execute(ctx, "devices:commands", deviceID, capability+":"+value)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, gateway.ErrTimeout) {
			outcome = OutcomeTimeout
		}
		d.metrics.ObserveCommand(capability, outcome)
		d.logger.Error("error sending device command",
			"device_id", deviceID,
			"capability", capability,
			"value", value,
			"error", err,
		)
		return fmt.Errorf("sending %s:%s to %s: %w", capability, value, deviceID, err)
	}

	d.metrics.ObserveCommand(capability, OutcomeSuccess)
	d.logger.Info("device command sent",
		"device_id", deviceID,
		"capability", capability,
		"value", value,
	)

	if d.refresher != nil && !d.refresher.RefreshDevice(deviceID) {
		d.logger.Debug("refresh deferred to next tick, fetch already running", "device_id", deviceID)
	}
	return nil
}

// Toggle issues the command offered by the device's current control:
// "switch:off" when it is on, "switch:on" otherwise. It returns
// ErrControlDisabled when the device is not online.
func (d *Dispatcher) Toggle(ctx context.Context, deviceID string) (device.Control, error) {
	st, err := d.devices.Get(deviceID)
	if err != nil {
		return device.Control{}, err
	}

	ctrl := st.Control()
	if !ctrl.Enabled {
		d.metrics.ObserveCommand(device.CapabilitySwitch, OutcomeDisabled)
		return ctrl, fmt.Errorf("%w: device %s is %s", ErrControlDisabled, deviceID, st.HealthStatus)
	}

	if err := d.SendCommand(ctx, deviceID, ctrl.Capability, ctrl.Value); err != nil {
		return ctrl, err
	}
	return ctrl, nil
}

// ValidateArg checks a capability or value for use on the CLI command line.
func ValidateArg(field, v string) error {
	if v == "" {
		return &device.ValidationError{Index: -1, Field: field, Reason: "is required"}
	}
	if !argPattern.MatchString(v) {
		return &device.ValidationError{Index: -1, Field: field, Value: v, Reason: "contains characters that are not allowed"}
	}
	return nil
}
