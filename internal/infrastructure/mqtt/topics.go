package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "stsync"

// Topics builds the stsync topic hierarchy under a configurable prefix:
//
//	{prefix}/devices                  device list (retained)
//	{prefix}/device/{id}/state        state and control (retained)
//	{prefix}/device/{id}/command      command intake
//	{prefix}/device/{id}/ack          command results
//	{prefix}/event/load_error         device list load failures
//	{prefix}/system/status            online/offline, also the LWT
//
// Device IDs are used verbatim as a single topic level.
type Topics struct {
	prefix string
}

// NewTopics returns a Topics for prefix. Trailing slashes are dropped and an
// empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.root()
}

func (t Topics) root() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Devices returns the device list topic.
//
// Example: stsync/devices
func (t Topics) Devices() string {
	return t.root() + "/devices"
}

// DeviceState returns the state topic for a device.
//
// Example: stsync/device/5f1c.../state
func (t Topics) DeviceState(deviceID string) string {
	return t.device(deviceID, "state")
}

// DeviceCommand returns the command intake topic for a device.
func (t Topics) DeviceCommand(deviceID string) string {
	return t.device(deviceID, "command")
}

// DeviceAck returns the topic command results are published on.
func (t Topics) DeviceAck(deviceID string) string {
	return t.device(deviceID, "ack")
}

// AllDeviceCommands returns the wildcard matching every command topic.
func (t Topics) AllDeviceCommands() string {
	return t.device("+", "command")
}

// LoadError returns the topic for device list load failures.
func (t Topics) LoadError() string {
	return t.root() + "/event/load_error"
}

// SystemStatus returns the daemon status topic.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

func (t Topics) device(deviceID, leaf string) string {
	return t.root() + "/device/" + deviceID + "/" + leaf
}

// CommandDeviceID extracts the device ID from a command topic. It reports
// false when topic is not a command topic under this prefix.
func (t Topics) CommandDeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.root()+"/device/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/command")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ValidTopicLevel reports whether s can be used as a single topic level
// without introducing separators or wildcards.
func ValidTopicLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
