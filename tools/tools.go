// Package tools provides the built-in tools served by the mcpd binary: an
// echo roundtrip, a keyed JSON memory, and a URL fetcher with markdown
// extraction.
package tools

import "github.com/toolrpc/mcpd"

func textResult(text string) mcpd.CallToolResult {
	return mcpd.CallToolResult{
		Content: []mcpd.Content{
			{
				Type: mcpd.ContentTypeText,
				Text: text,
			},
		},
		IsError: false,
	}
}

func errorResult(text string) mcpd.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}
