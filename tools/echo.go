package tools

import (
	"context"

	"github.com/toolrpc/mcpd"
)

// Echo is a tool that returns the message it was given.
type Echo struct{}

// NewEcho creates an echo tool.
func NewEcho() Echo {
	return Echo{}
}

// Def implements mcpd.ToolDef.
func (Echo) Def() mcpd.Tool {
	return mcpd.Tool{
		Name:        "echo",
		Description: "Echoes back the input message",
		InputSchema: echoSchema,
	}
}

// Call implements mcpd.ToolDef.
func (Echo) Call(_ context.Context, args echoArgs) (mcpd.CallToolResult, error) {
	return textResult(args.Message), nil
}
