// Package mqtt provides the MQTT client used by the stsync bridge.
//
// It wraps eclipse/paho.mqtt.golang with:
//   - auto-reconnect and subscription restore after reconnect
//   - a retained online status and an offline Last Will on
//     {prefix}/system/status
//   - QoS, topic and payload size validation on publish
//   - panic recovery around message handlers
//
// Topic names are built with Topics:
//
//	topics := mqtt.NewTopics("stsync")
//	topics.DeviceState("5f1c")     // stsync/device/5f1c/state
//	topics.AllDeviceCommands()     // stsync/device/+/command
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(client.Topics().Devices(), payload)
package mqtt
