package device

// Observer receives notifications from the Registry.
//
// Notifications for one device are delivered in order and never
// concurrently. Notifications for different devices may arrive
// concurrently from different goroutines, so implementations must be safe
// for concurrent use.
//
// Observers are called while the Registry holds internal locks. They must
// return promptly and must not call back into the Registry.
type Observer interface {
	// OnDeviceListLoaded is called after a device list replaced the current set.
	OnDeviceListLoaded(devices []Device)

	// OnDeviceStateChanged is called after every successful Set.
	OnDeviceStateChanged(deviceID string, state DeviceState)

	// OnLoadError is called when a device list could not be obtained or parsed.
	OnLoadError(message string)
}

// Observers fans each notification out to every element in order.
type Observers []Observer

// OnDeviceListLoaded implements Observer.
func (o Observers) OnDeviceListLoaded(devices []Device) {
	for _, obs := range o {
		obs.OnDeviceListLoaded(devices)
	}
}

// OnDeviceStateChanged implements Observer.
func (o Observers) OnDeviceStateChanged(deviceID string, state DeviceState) {
	for _, obs := range o {
		obs.OnDeviceStateChanged(deviceID, state)
	}
}

// OnLoadError implements Observer.
func (o Observers) OnLoadError(message string) {
	for _, obs := range o {
		obs.OnLoadError(message)
	}
}

// NoopObserver ignores every notification. Embed it to implement a subset.
type NoopObserver struct{}

func (NoopObserver) OnDeviceListLoaded([]Device)              {}
func (NoopObserver) OnDeviceStateChanged(string, DeviceState) {}
func (NoopObserver) OnLoadError(string)                       {}
