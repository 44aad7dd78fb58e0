// Package bridge relays device status to MQTT and accepts commands from it.
//
// The bridge sits between the device registry and a broker:
//
//	┌──────────────┐ observer  ┌──────────┐   MQTT   ┌────────────┐
//	│   Registry   │──────────►│  Bridge  │◄────────►│   Broker   │
//	└──────────────┘           └────┬─────┘          └────────────┘
//	                                │ SendCommand
//	                          ┌─────▼──────┐
//	                          │ Dispatcher │
//	                          └────────────┘
//
// # Topics
//
// With the default prefix "stsync":
//
//	stsync/devices                  device list (retained)
//	stsync/device/{id}/state        state and control (retained)
//	stsync/device/{id}/command      inbound {"capability","value"}
//	stsync/device/{id}/ack          command result
//	stsync/event/load_error         device list load failures
//
// # Thread Safety
//
// Observer callbacks only marshal and enqueue; a single worker publishes.
// When the queue is full messages are dropped and counted. Commands run on
// their own goroutines so a slow CLI never stalls the MQTT client's router.
package bridge
