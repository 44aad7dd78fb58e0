// Package device holds the device model, the status parser and the Device
// Registry for stsync.
//
// The Registry is the single owner of mutable device state. Everything else
// reads snapshots from it or writes whole DeviceState values through Set.
//
// # Architecture
//
//	devices           ──ParseDeviceList──▶  Registry.LoadDevices
//	                                          ordered []Device, one slot each
//	devices:status id ──ParseStatus──────▶  Registry.Set(id, state)
//	                                          slot.mu held while Observer runs
//
// Each device's state lives in its own slot guarded by its own mutex, so
// reconciling one device never blocks another. Observers are notified
// under that slot lock; notifications for a single device are therefore
// strictly ordered, while notifications for different devices may run
// concurrently.
//
// A reload replaces the device set wholesale. Results that arrive for
// devices no longer in the set are rejected with ErrDeviceNotFound.
//
// # Key Types
//
//   - Device: identity and label from the device list
//   - DeviceState: health and switch state, replaced as a whole
//   - Control: the toggle action derived from a DeviceState
//   - Observer: notification interface consumed by the API, MQTT bridge
//     and telemetry
//
// # Usage
//
//	reg := device.NewRegistry(device.Observers{hub, bridge, metrics})
//	reg.SetLogger(log)
//
//	if _, err := reg.LoadDevices(raw); err != nil {
//	    return err
//	}
//	st, err := device.ParseStatus(out)
//	if err == nil {
//	    err = reg.Set(id, st)
//	}
package device
