package device

import (
	"context"
	"time"
)

// StateHistoryEntry is one recorded state change.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	DeviceID string      `json:"device_id"`
	State    DeviceState `json:"state"`

	// CreatedAt is when the state was reconciled (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a reconciled state. state.LastUpdated is
	// used as the timestamp, or the current time if it is zero.
	RecordStateChange(ctx context.Context, deviceID string, state DeviceState) error

	// GetHistory returns up to limit entries for the device, newest first.
	// Implementations may clamp limit.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than now-olderThan and returns how
	// many were removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
