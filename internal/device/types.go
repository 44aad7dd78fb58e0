package device

import "time"

// DefaultLabel is used for devices whose list record has no usable label.
const DefaultLabel = "Unknown Device"

// Device is a SmartThings device as returned by the CLI's device list.
//
// Devices are immutable once loaded; a new list replaces them wholesale.
type Device struct {
	// ID is the SmartThings deviceId, unique within a list.
	ID string `json:"deviceId"`

	// Label is the display name. Not necessarily unique.
	Label string `json:"label"`
}

// HealthStatus is the reachability reported by the device's health check.
type HealthStatus string

// HealthStatus constants.
const (
	HealthOnline  HealthStatus = "online"
	HealthOffline HealthStatus = "offline"
	HealthUnknown HealthStatus = "unknown"
)

// Valid reports whether h is one of the known health values.
func (h HealthStatus) Valid() bool {
	switch h {
	case HealthOnline, HealthOffline, HealthUnknown:
		return true
	default:
		return false
	}
}

// SwitchState is the position of the device's switch capability.
type SwitchState string

// SwitchState constants.
const (
	SwitchOn      SwitchState = "on"
	SwitchOff     SwitchState = "off"
	SwitchUnknown SwitchState = "unknown"
)

// Valid reports whether s is one of the known switch values.
func (s SwitchState) Valid() bool {
	switch s {
	case SwitchOn, SwitchOff, SwitchUnknown:
		return true
	default:
		return false
	}
}

// DeviceState is the normalized status of one device.
//
// It is a value type and is always replaced as a whole. SwitchState is only
// meaningful while HealthStatus is online; Normalize enforces that.
type DeviceState struct {
	HealthStatus HealthStatus `json:"health_status"`
	SwitchState  SwitchState  `json:"switch_state"`

	// LastUpdated is when the state was last reconciled. Zero until the
	// first successful fetch.
	LastUpdated time.Time `json:"last_updated"`
}

// UnknownState returns the state of a device that has not been fetched yet.
func UnknownState() DeviceState {
	return DeviceState{
		HealthStatus: HealthUnknown,
		SwitchState:  SwitchUnknown,
	}
}

// Normalize maps unrecognised values to unknown and clears the switch
// state of devices that are not online.
func (s DeviceState) Normalize() DeviceState {
	if !s.HealthStatus.Valid() {
		s.HealthStatus = HealthUnknown
	}
	if !s.SwitchState.Valid() || s.HealthStatus != HealthOnline {
		s.SwitchState = SwitchUnknown
	}
	return s
}

// ControlEnabled reports whether the device can be acted on.
// It is true only while the device is online.
func (s DeviceState) ControlEnabled() bool {
	return s.HealthStatus == HealthOnline
}

// Control labels shown for each device state.
const (
	LabelLoading = "Loading status..."
	LabelOffline = "Offline"
	LabelTurnOn  = "Turn On"
	LabelTurnOff = "Turn Off"
)

// CapabilitySwitch is the capability toggled by a device's control.
const CapabilitySwitch = "switch"

// Control is the per-device action derived from a DeviceState.
type Control struct {
	Enabled bool   `json:"enabled"`
	Label   string `json:"label"`

	// Capability and Value are the command the control issues.
	// Both are empty when the control is disabled.
	Capability string `json:"capability,omitempty"`
	Value      string `json:"value,omitempty"`
}

// Control derives the toggle action for s.
//
// An online device with its switch on offers "switch:off"; any other online
// device offers "switch:on".
func (s DeviceState) Control() Control {
	switch s.HealthStatus {
	case HealthOnline:
		if s.SwitchState == SwitchOn {
			return Control{Enabled: true, Label: LabelTurnOff, Capability: CapabilitySwitch, Value: string(SwitchOff)}
		}
		return Control{Enabled: true, Label: LabelTurnOn, Capability: CapabilitySwitch, Value: string(SwitchOn)}
	case HealthOffline:
		return Control{Label: LabelOffline}
	default:
		return Control{Label: LabelLoading}
	}
}

// DeviceStatus pairs a device with its current state.
type DeviceStatus struct {
	Device Device
	State  DeviceState
}
