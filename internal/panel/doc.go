// Package panel serves the device dashboard as an embedded asset.
//
// The dashboard is a small static page listing every device with its
// health, switch state and a toggle button. It reads /api/v1/devices on
// load and then follows the WebSocket state channel, so it never polls.
//
// Assets are embedded with go:embed. Handler can instead serve them from a
// directory, which lets the page be edited without rebuilding. Unknown
// paths fall back to index.html.
package panel
