// Package telemetry records what the synchronization engine does.
//
// Three sinks are provided, each usable on its own:
//   - Metrics: Prometheus collectors on a private registry, fed by the
//     scheduler, the command dispatcher and registry notifications
//   - InfluxRecorder: one device_state point per reconciled state
//   - HistoryRecorder: reconciled states persisted to SQLite through a
//     device.StateHistoryRepository, pruned by retention
//
// Every sink implements device.Observer and is combined with
// device.Observers.
package telemetry
