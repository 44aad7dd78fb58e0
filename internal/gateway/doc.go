// Package gateway runs the SmartThings CLI on behalf of the rest of stsync.
//
// A Gateway is stateless: each Execute call starts the configured binary in
// its own process group, waits for it, and returns stdout. Invocations are
// bounded by a per-call timeout. When the timeout fires or the caller's
// context is cancelled the whole process group receives SIGTERM, followed by
// SIGKILL once the graceful timeout has passed, so no CLI process outlives
// the call that started it.
//
// Failures are reported as *CommandError values whose Kind can be matched
// with errors.Is against ErrNonZeroExit, ErrNotFound, ErrTimeout and
// ErrCanceled. The gateway never retries.
//
// Example:
//
//	gw := gateway.New(gateway.Config{
//	    Binary:  "/home/pi/smartthings",
//	    Timeout: 30 * time.Second,
//	})
//	out, err := gw.Execute(ctx, "devices:status", deviceID)
package gateway
