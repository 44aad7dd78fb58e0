package bridge

import (
	"time"

	"github.com/nerrad567/stsync/internal/device"
)

// CommandMessage is received on {prefix}/device/{id}/command.
type CommandMessage struct {
	// ID is echoed in the ack for correlation. Optional.
	ID string `json:"id,omitempty"`

	Capability string `json:"capability"`
	Value      string `json:"value"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the CLI ran the command successfully.
	AckAccepted AckStatus = "accepted"

	// AckRejected means the command was refused before reaching the CLI.
	AckRejected AckStatus = "rejected"

	// AckFailed means the CLI reported an error.
	AckFailed AckStatus = "failed"

	// AckTimeout means the CLI did not finish in time.
	AckTimeout AckStatus = "timeout"
)

// Ack error codes.
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeNotFound       = "device_not_found"
	ErrCodeCommandFailed  = "command_failed"
	ErrCodeTimeout        = "timeout"
)

// AckMessage is published on {prefix}/device/{id}/ack.
type AckMessage struct {
	ID         string    `json:"id,omitempty"`
	DeviceID   string    `json:"device_id"`
	Capability string    `json:"capability,omitempty"`
	Value      string    `json:"value,omitempty"`
	Status     AckStatus `json:"status"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeviceListMessage is published retained on {prefix}/devices.
type DeviceListMessage struct {
	Devices   []device.Device `json:"devices"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
}

// StateMessage is published retained on {prefix}/device/{id}/state.
type StateMessage struct {
	DeviceID string             `json:"device_id"`
	State    device.DeviceState `json:"state"`
	Control  device.Control     `json:"control"`
}

// LoadErrorMessage is published on {prefix}/event/load_error.
type LoadErrorMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
