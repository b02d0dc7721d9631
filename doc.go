// Package mcpd implements a Model Context Protocol (MCP) server over
// JSON-RPC 2.0, serving tool invocation, and resource and prompt listing,
// to exactly one peer per transport.
//
// The package separates three concerns: transports move raw message text
// (newline-delimited stdio or a single-client websocket listener), the
// dispatcher parses and routes JSON-RPC, and typed tool definitions are
// bridged into the registry with their input schemas validated on every
// call. Messages are processed strictly in arrival order.
package mcpd
