package mcpd

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the JSON-RPC protocol version used by all messages.
const JSONRPCVersion = "2.0"

// Methods handled by the server. The exported names form the request surface
// clients call after the initialize handshake.
const (
	// MethodResourcesList lists the resources advertised by the server.
	MethodResourcesList = "resources/list"
	// MethodPromptsList lists the prompts advertised by the server.
	MethodPromptsList = "prompts/list"
	// MethodToolsList lists the tools registered on the server.
	MethodToolsList = "tools/list"
	// MethodToolsCall invokes a registered tool by name.
	MethodToolsCall = "tools/call"

	methodInitialize               = "initialize"
	methodNotificationsInitialized = "notifications/initialized"
	methodNotificationsCancelled   = "notifications/cancelled"
	methodCancelled                = "cancelled"
)

// protocolVersion is the MCP revision this server speaks. The initialize
// result echoes the client's version; this value fills in when the client
// omits one.
const protocolVersion = "2024-11-05"

const (
	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// MustString is a string that also accepts JSON numbers when unmarshaling.
// Request IDs may arrive as either strings or integers; MustString keeps one
// canonical string form for both.
type MustString string

// UnmarshalJSON implements json.Unmarshaler.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type for id: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

// JSONRPCMessage is the wire envelope shared by every message:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
//
// ID stays raw so a response echoes the exact value the request carried,
// string or number alike.
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error member of a JSON-RPC response. It implements
// error so a handler can return one directly to pick the wire code.
type JSONRPCError struct {
	// Code is a standard JSON-RPC error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data carries optional unstructured detail.
	Data map[string]any `json:"data,omitempty"`
}

// Error implements error.
func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s", j.Code, j.Message)
}

// Info identifies an implementation, either this server or the connecting
// client.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises which protocol features the server supports.
// Present sections serialize their flags explicitly so clients see false
// values rather than absent fields.
type ServerCapabilities struct {
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Logging   *LoggingCapability   `json:"logging,omitempty"`
}

// PromptsCapability describes prompt-related server capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ResourcesCapability describes resource-related server capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// ToolsCapability describes tool-related server capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// LoggingCapability describes logging-related server capabilities.
type LoggingCapability struct{}

// ClientCapabilities describes the features a client reports during
// initialize.
type ClientCapabilities struct {
	Roots    *RootsCapability    `json:"roots,omitempty"`
	Sampling *SamplingCapability `json:"sampling,omitempty"`
}

// RootsCapability describes root-related client capabilities.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability describes sampling-related client capabilities.
type SamplingCapability struct{}

// Tool describes a callable tool: its name, a human-readable description,
// and the JSON Schema its arguments must satisfy.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallToolParams is the parameter shape of a tools/call request. Arguments
// stays raw so each tool decodes into its own argument struct.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result shape of a tools/call response. IsError is
// always serialized: a tool-level failure is still a successful JSON-RPC
// response, flagged for the client to inspect.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ContentType names the variants of a Content item.
type ContentType string

// Content variants.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

// Content is one item of tool output.
type Content struct {
	Type ContentType `json:"type"`

	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	Annotations *Annotations `json:"annotations,omitempty"`
}

// Role describes the intended audience of a content item.
type Role string

// Supported audience roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Annotations carries optional hints about how a content item or resource
// should be used.
type Annotations struct {
	Audience []Role  `json:"audience,omitempty"`
	Priority float64 `json:"priority,omitempty"`
}

// Resource describes an entry the server advertises via resources/list.
type Resource struct {
	URI         string       `json:"uri"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// Prompt describes a prompt template the server advertises via
// prompts/list.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListToolsResult is the result shape of tools/list. The catalogue is static
// and never paginates, so NextCursor stays empty and is omitted.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListResourcesResult is the result shape of resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ListPromptsResult is the result shape of prompts/list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type cancelledParams struct {
	RequestID MustString `json:"requestId"`
	Reason    string     `json:"reason,omitempty"`
}
