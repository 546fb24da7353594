// Package logging provides the structured logging used across the bridge.
//
// All output goes to stderr: stdout is the JSON-RPC protocol channel between
// the local MCP client and the bridge, and a single stray log line there
// corrupts the stream. The package wraps log/slog with a subsystem label so
// log lines can be attributed to the component that emitted them.
package logging
