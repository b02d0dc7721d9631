package mcpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Transport moves raw JSON-RPC text between the server and exactly one peer.
// Implementations own the channel's framing (newline-delimited lines,
// websocket text frames) and nothing else: they never parse or interpret the
// JSON they carry.
type Transport interface {
	// Start runs the receive loop, pushing each complete incoming message
	// onto messages as a raw string. It blocks until the stream ends or ctx
	// is done, returning nil in both cases, or returns a fatal transport
	// error. A frame that cannot be used is skipped, never fatal.
	Start(ctx context.Context, messages chan<- string) error

	// Send writes one outgoing message in the channel's framing. Empty text
	// is ignored. Sending when no peer is connected is a silent no-op on
	// listener transports; write failures on a live peer are returned.
	Send(ctx context.Context, text string) error
}

// ToolHandler is a registered tool as the dispatcher sees it: a cached wire
// descriptor plus a call on raw JSON arguments.
type ToolHandler interface {
	// Def returns the tool's wire descriptor, including its input schema.
	Def() Tool

	// Call validates args and runs the tool. Argument violations surface as
	// *ArgumentError; other returned errors are internal failures. Domain
	// failures the peer should see are reported inside CallToolResult with
	// IsError set, not as an error.
	Call(ctx context.Context, args json.RawMessage) (CallToolResult, error)
}

// ToolDef is the typed contract a tool implements. T is the argument struct
// matching the tool's input schema; NewToolHandler bridges a ToolDef into
// the ToolHandler the server registers.
type ToolDef[T any] interface {
	// Def returns the tool's wire descriptor, including its input schema.
	Def() Tool

	// Call runs the tool on already-validated, decoded arguments.
	Call(ctx context.Context, args T) (CallToolResult, error)
}

// ErrToolNotFound reports a tools/call naming no registered tool. The
// dispatcher maps it to the method-not-found error code.
var ErrToolNotFound = errors.New("tool not found")

// ArgumentError reports tool arguments that failed schema validation or
// decoding. The dispatcher maps it to the invalid-params error code and
// includes the detail in the response message.
type ArgumentError struct {
	Tool string
	Err  error
}

// Error implements error.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying validation or decoding error.
func (e *ArgumentError) Unwrap() error {
	return e.Err
}
