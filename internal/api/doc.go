// Package api implements the HTTP REST API and WebSocket server for stsync.
//
// This package provides:
//   - REST endpoints to list devices, inspect state, and send commands
//   - A WebSocket hub that relays registry notifications in real time
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - The Prometheus /metrics endpoint when a metrics handler is supplied
//   - Optional HS256 bearer-token auth with read and control scopes
//   - The dashboard panel and an Apache-style access log, both optional
//
// # Architecture
//
// The server reads from the device registry and writes through the command
// dispatcher. It never changes device state itself: a command is accepted
// with 202, and the resulting state arrives via the next fetch and is
// broadcast to WebSocket clients subscribed to "device.state_changed".
//
// # Graceful Degradation
//
// State history and metrics are optional. Without a history repository the
// history endpoint answers 404. With no JWT secret configured every route is
// open; /api/v1/health is open regardless.
package api
