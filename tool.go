package mcpd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
)

var emptyArguments = json.RawMessage("{}")

// NewToolHandler bridges a typed ToolDef into the ToolHandler the server
// registers. The tool's input schema is compiled here, once; a descriptor
// with an invalid schema fails registration instead of failing calls.
//
// Per call the handler validates the raw arguments against the compiled
// schema before decoding, so a missing required property or a wrong type is
// rejected as an argument error rather than decoded into zero values.
func NewToolHandler[T any](def ToolDef[T]) (ToolHandler, error) {
	tool := def.Def()
	if tool.Name == "" {
		return nil, errors.New("tool name must not be empty")
	}

	var schema *jsonschema.Schema
	if len(tool.InputSchema) > 0 {
		schema = &jsonschema.Schema{}
		if err := json.Unmarshal(tool.InputSchema, schema); err != nil {
			return nil, fmt.Errorf("failed to compile input schema for tool %s: %w", tool.Name, err)
		}
	}

	return &toolHandler[T]{
		def:    def,
		tool:   tool,
		schema: schema,
	}, nil
}

type toolHandler[T any] struct {
	def    ToolDef[T]
	tool   Tool
	schema *jsonschema.Schema
}

func (t *toolHandler[T]) Def() Tool {
	return t.tool
}

func (t *toolHandler[T]) Call(ctx context.Context, args json.RawMessage) (CallToolResult, error) {
	raw := normalizeArguments(args)

	if t.schema != nil {
		keyErrs, err := t.schema.ValidateBytes(ctx, raw)
		if err != nil {
			return CallToolResult{}, &ArgumentError{Tool: t.tool.Name, Err: err}
		}
		if len(keyErrs) > 0 {
			msgs := make([]string, len(keyErrs))
			for i, keyErr := range keyErrs {
				msgs[i] = keyErr.Error()
			}
			return CallToolResult{}, &ArgumentError{
				Tool: t.tool.Name,
				Err:  errors.New(strings.Join(msgs, "; ")),
			}
		}
	}

	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return CallToolResult{}, &ArgumentError{
			Tool: t.tool.Name,
			Err:  fmt.Errorf("failed to decode arguments: %w", err),
		}
	}

	return t.def.Call(ctx, decoded)
}

// normalizeArguments maps absent arguments to an empty object so schemas
// with no required properties accept a call that sends none.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyArguments
	}
	return args
}
