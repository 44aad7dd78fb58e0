package device

import (
	"encoding/json"
	"strings"
)

// Status payload paths, relative to the top-level object.
var (
	healthPath = []string{"components", "main", "healthCheck", "DeviceWatch-DeviceStatus", "value"}
	switchPath = []string{"components", "main", "switch", "switch", "value"}
)

// ParseStatus decodes the output of "devices:status <id>".
//
// Only undecodable input or a non-object top level is an error. Missing or
// mistyped intermediate keys resolve to unknown, and the switch is read
// only when the device is online. LastUpdated is left zero for the caller
// to stamp.
func ParseStatus(raw string) (DeviceState, error) {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return DeviceState{}, &ParseError{Reason: "status is not valid JSON", Err: err}
	}

	root, ok := payload.(map[string]any)
	if !ok {
		return DeviceState{}, &ParseError{Reason: "status is not a JSON object"}
	}

	state := UnknownState()
	if v, ok := lookupString(root, healthPath...); ok {
		state.HealthStatus = HealthStatus(v)
	}
	if state.HealthStatus == HealthOnline {
		if v, ok := lookupString(root, switchPath...); ok {
			state.SwitchState = SwitchState(v)
		}
	}

	return state.Normalize(), nil
}

// lookupString walks nested objects along path and returns the string at
// the end of it.
func lookupString(root map[string]any, path ...string) (string, bool) {
	var cur any = root
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = obj[key]; !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

// ParseDeviceList decodes the output of "devices".
//
// The top level must be a JSON array. Records that are not objects, lack a
// non-empty string deviceId, or repeat an earlier deviceId are skipped and
// reported as *ValidationError warnings. Records without a usable label get
// DefaultLabel. Order is preserved.
func ParseDeviceList(raw string) ([]Device, []error, error) {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil, &ParseError{Reason: "device list is not valid JSON", Err: err}
	}

	records, ok := payload.([]any)
	if !ok {
		return nil, nil, &ParseError{Reason: "device list is not a JSON array"}
	}

	devices := make([]Device, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	var warnings []error

	for i, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			warnings = append(warnings, &ValidationError{Index: i, Field: "record", Reason: "is not an object"})
			continue
		}

		id, ok := obj["deviceId"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			warnings = append(warnings, &ValidationError{Index: i, Field: "deviceId", Reason: "is missing or empty"})
			continue
		}
		if _, dup := seen[id]; dup {
			warnings = append(warnings, &ValidationError{Index: i, Field: "deviceId", Value: id, Reason: "duplicates an earlier record"})
			continue
		}
		seen[id] = struct{}{}

		label, _ := obj["label"].(string)
		if strings.TrimSpace(label) == "" {
			label = DefaultLabel
		}

		devices = append(devices, Device{ID: id, Label: label})
	}

	return devices, warnings, nil
}
