// Package command turns user intents into SmartThings CLI commands.
//
// A Dispatcher validates the target device and the capability/value pair,
// runs "devices:commands <id> <capability>:<value>" through the gateway and,
// on success, asks the poller for an immediate refresh of that device. If a
// fetch for the device is already running the refresh is left to the next
// tick. A failed command never touches the Registry.
package command
