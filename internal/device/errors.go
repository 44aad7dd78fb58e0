package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // device is not in the current list
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the current device set.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrMalformed is matched by every *ParseError.
	ErrMalformed = errors.New("device: malformed payload")

	// ErrInvalid is matched by every *ValidationError.
	ErrInvalid = errors.New("device: invalid")
)

// ParseError reports CLI output that could not be decoded.
type ParseError struct {
	// Reason is a short description of what was wrong with the payload.
	Reason string
	// Err is the underlying decode error, if any.
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device: malformed payload: %s: %v", e.Reason, e.Err)
	}
	return "device: malformed payload: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformed) true for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrMalformed }

// ValidationError reports a device record or command argument that failed
// validation.
type ValidationError struct {
	// Index is the position of the record in a device list, or -1 when the
	// error is not about a list record.
	Index int
	// Field names the offending field (e.g. "deviceId", "capability").
	Field string
	// Value is the rejected value, if it was a string.
	Value string
	// Reason describes the failure.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("device: invalid record %d: %s %s", e.Index, e.Field, e.Reason)
	}
	if e.Value != "" {
		return fmt.Sprintf("device: invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("device: invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) true for any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }
