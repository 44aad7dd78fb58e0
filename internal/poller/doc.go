// Package poller drives periodic device status fetches for stsync.
//
// A Scheduler owns a recurring timer and a TaskGroup. On every tick it
// claims a slot for each listed device that is idle and starts one fetch
// goroutine for it:
//
//	tick ─▶ TaskGroup.TryGo(id) ─▶ gateway "devices:status id"
//	                                   │
//	                                   ▼
//	                           device.ParseStatus
//	                                   │
//	                                   ▼
//	                   Reconciler.Apply ─▶ Registry.Set ─▶ observers
//
// At most one fetch per device is ever running. The claim happens under the
// TaskGroup mutex before the goroutine starts and is released when the
// fetch returns, whatever the outcome. A device whose fetch is still
// running when the next tick fires is skipped for that tick.
//
// Stop closes the group, cancels every fetch (the gateway terminates the
// CLI process group) and waits for them within a bounded grace period.
package poller
