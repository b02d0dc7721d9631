package mcpd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type nopTransport struct{}

func (nopTransport) Start(ctx context.Context, _ chan<- string) error {
	<-ctx.Done()
	return nil
}

func (nopTransport) Send(context.Context, string) error { return nil }

type pingArgs struct {
	Message string `json:"message"`
}

type pingTool struct{}

func (pingTool) Def() Tool {
	return Tool{
		Name:        "ping",
		Description: "Replies with the given message",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": { "type": "string", "description": "The message to reply with" }
  },
  "required": ["message"]
}`),
	}
}

func (pingTool) Call(_ context.Context, args pingArgs) (CallToolResult, error) {
	return CallToolResult{
		Content: []Content{
			{
				Type: ContentTypeText,
				Text: args.Message,
			},
		},
		IsError: false,
	}, nil
}

type failArgs struct{}

type failTool struct{}

func (failTool) Def() Tool {
	return Tool{
		Name:        "fail",
		Description: "Always fails",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (failTool) Call(context.Context, failArgs) (CallToolResult, error) {
	return CallToolResult{}, errors.New("database exploded")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	ping, err := NewToolHandler(pingTool{})
	if err != nil {
		t.Fatalf("Failed to create ping handler: %v", err)
	}
	fail, err := NewToolHandler(failTool{})
	if err != nil {
		t.Fatalf("Failed to create fail handler: %v", err)
	}

	srv, err := NewServer(
		Info{Name: "test-server", Version: "0.0.1"},
		nopTransport{},
		WithLogger(testLogger()),
		WithInstructions("test instructions"),
		WithTools(ping, fail),
		WithResources(Resource{
			URI:      "file:///example.txt",
			Name:     "example.txt",
			MimeType: "text/plain",
		}),
		WithPrompts(Prompt{
			Name:        "greet",
			Description: "A friendly greeting prompt",
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func dispatchRaw(t *testing.T, srv *Server, raw string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.dispatcher.dispatch(ctx, raw)
}

func parseResponse(t *testing.T, response string) JSONRPCMessage {
	t.Helper()

	var msg JSONRPCMessage
	if err := json.Unmarshal([]byte(response), &msg); err != nil {
		t.Fatalf("Failed to parse response %q: %v", response, err)
	}
	return msg
}

func TestDispatch_ParseErrorKeepsRecoverableID(t *testing.T) {
	srv := newTestServer(t)

	// The method field has the wrong type, so the envelope fails to decode
	// but the id is still usable.
	response := dispatchRaw(t, srv, `{"jsonrpc":"2.0","id":7,"method":123}`)
	if response == "" {
		t.Fatal("Expected a parse error response, got none")
	}

	msg := parseResponse(t, response)
	if msg.Error == nil {
		t.Fatal("Expected error in response")
	}
	if msg.Error.Code != jsonRPCParseErrorCode {
		t.Errorf("Error code = %d, want %d", msg.Error.Code, jsonRPCParseErrorCode)
	}
	if string(msg.ID) != "7" {
		t.Errorf("Response id = %s, want 7", msg.ID)
	}
}

func TestDispatch_DropsGarbageWithoutID(t *testing.T) {
	srv := newTestServer(t)

	for _, raw := range []string{
		`this is not json`,
		`{"jsonrpc":"2.0"`,
		`{}`,
	} {
		if response := dispatchRaw(t, srv, raw); response != "" {
			t.Errorf("dispatch(%q) = %q, want no response", raw, response)
		}
	}
}

func TestDispatch_InvalidRequestWithoutMethod(t *testing.T) {
	srv := newTestServer(t)

	response := dispatchRaw(t, srv, `{"jsonrpc":"2.0","id":3}`)
	msg := parseResponse(t, response)

	if msg.Error == nil || msg.Error.Code != jsonRPCInvalidRequestCode {
		t.Fatalf("Expected invalid request error, got %+v", msg.Error)
	}
	if string(msg.ID) != "3" {
		t.Errorf("Response id = %s, want 3", msg.ID)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	srv := newTestServer(t)

	response := dispatchRaw(t, srv, `{"jsonrpc":"2.0","id":4,"method":"resources/read"}`)
	msg := parseResponse(t, response)

	if msg.Error == nil || msg.Error.Code != jsonRPCMethodNotFoundCode {
		t.Fatalf("Expected method not found error, got %+v", msg.Error)
	}
	if !strings.Contains(msg.Error.Message, "resources/read") {
		t.Errorf("Error message %q does not name the method", msg.Error.Message)
	}
}

func TestDispatch_NotificationsAreSilent(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "initialized",
			raw:  `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		},
		{
			name: "cancelled",
			raw:  `{"jsonrpc":"2.0","method":"cancelled","params":{"requestId":1,"reason":"timeout"}}`,
		},
		{
			name: "namespaced cancelled",
			raw:  `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"abc","reason":"gone"}}`,
		},
		{
			name: "unknown notification",
			raw:  `{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":0.5}}`,
		},
		{
			name: "cancelled with id",
			raw:  `{"jsonrpc":"2.0","id":11,"method":"notifications/cancelled","params":{"requestId":2}}`,
		},
		{
			name: "cancelled with bad params",
			raw:  `{"jsonrpc":"2.0","method":"cancelled","params":"bogus"}`,
		},
		{
			name: "request method without id",
			raw:  `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"ping","arguments":{"message":"x"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if response := dispatchRaw(t, srv, tt.raw); response != "" {
				t.Errorf("dispatch(%q) = %q, want no response", tt.raw, response)
			}
		})
	}
}

func TestDispatch_Initialize(t *testing.T) {
	srv := newTestServer(t)

	raw := `{"jsonrpc":"2.0","id":1,"method":"initialize",` +
		`"params":{"protocolVersion":"2025-03-26","capabilities":{},` +
		`"clientInfo":{"name":"tester","version":"1.0"}}}`

	msg := parseResponse(t, dispatchRaw(t, srv, raw))
	if msg.Error != nil {
		t.Fatalf("Unexpected error: %+v", msg.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("Failed to parse initialize result: %v", err)
	}

	// The client's protocol version is echoed back.
	if result.ProtocolVersion != "2025-03-26" {
		t.Errorf("ProtocolVersion = %s, want 2025-03-26", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("ServerInfo.Name = %s, want test-server", result.ServerInfo.Name)
	}
	if result.Instructions != "test instructions" {
		t.Errorf("Instructions = %s, want test instructions", result.Instructions)
	}
	if result.Capabilities.Tools == nil || result.Capabilities.Tools.ListChanged {
		t.Errorf("Capabilities.Tools = %+v, want present with listChanged false", result.Capabilities.Tools)
	}
	if result.Capabilities.Resources == nil || result.Capabilities.Resources.Subscribe {
		t.Errorf("Capabilities.Resources = %+v, want present with subscribe false", result.Capabilities.Resources)
	}
	if result.Capabilities.Prompts == nil {
		t.Error("Capabilities.Prompts missing")
	}
}

func TestDispatch_InitializeDefaultsProtocolVersion(t *testing.T) {
	srv := newTestServer(t)

	raw := `{"jsonrpc":"2.0","id":1,"method":"initialize",` +
		`"params":{"capabilities":{},"clientInfo":{"name":"tester","version":"1.0"}}}`

	msg := parseResponse(t, dispatchRaw(t, srv, raw))

	var result initializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("Failed to parse initialize result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("ProtocolVersion = %s, want %s", result.ProtocolVersion, protocolVersion)
	}
}

func TestDispatch_InitializeInvalidParams(t *testing.T) {
	srv := newTestServer(t)

	msg := parseResponse(t, dispatchRaw(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":"bogus"}`))

	if msg.Error == nil || msg.Error.Code != jsonRPCInvalidParamsCode {
		t.Fatalf("Expected invalid params error, got %+v", msg.Error)
	}
}

func TestDispatch_ToolsList(t *testing.T) {
	srv := newTestServer(t)

	msg := parseResponse(t, dispatchRaw(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	if msg.Error != nil {
		t.Fatalf("Unexpected error: %+v", msg.Error)
	}

	var result ListToolsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("Failed to parse tools/list result: %v", err)
	}

	if len(result.Tools) != 2 {
		t.Fatalf("len(Tools) = %d, want 2", len(result.Tools))
	}
	// Registration order is preserved.
	if result.Tools[0].Name != "ping" || result.Tools[1].Name != "fail" {
		t.Errorf("Tool names = %s, %s, want ping, fail", result.Tools[0].Name, result.Tools[1].Name)
	}
	if len(result.Tools[0].InputSchema) == 0 {
		t.Error("Tool input schema missing from listing")
	}
	if result.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty", result.NextCursor)
	}
}

func TestDispatch_ToolsCall(t *testing.T) {
	srv := newTestServer(t)

	raw := `{"jsonrpc":"2.0","id":5,"method":"tools/call",` +
		`"params":{"name":"ping","arguments":{"message":"hello"}}}`

	msg := parseResponse(t, dispatchRaw(t, srv, raw))
	if msg.Error != nil {
		t.Fatalf("Unexpected error: %+v", msg.Error)
	}

	var result CallToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("Failed to parse tools/call result: %v", err)
	}

	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Errorf("Content = %+v, want one text item saying hello", result.Content)
	}
	if result.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestDispatch_ToolsCallUnknownTool(t *testing.T) {
	srv := newTestServer(t)

	raw := `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"nope"}}`

	msg := parseResponse(t, dispatchRaw(t, srv, raw))
	if msg.Error == nil || msg.Error.Code != jsonRPCMethodNotFoundCode {
		t.Fatalf("Expected method not found error, got %+v", msg.Error)
	}
	if msg.Error.Message != "tool not found: nope" {
		t.Errorf("Error message = %q, want %q", msg.Error.Message, "tool not found: nope")
	}
	if string(msg.ID) != "9" {
		t.Errorf("Response id = %s, want 9", msg.ID)
	}
}

func TestDispatch_ToolsCallMissingArgument(t *testing.T) {
	srv := newTestServer(t)

	raw := `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"ping","arguments":{}}}`

	msg := parseResponse(t, dispatchRaw(t, srv, raw))
	if msg.Error == nil || msg.Error.Code != jsonRPCInvalidParamsCode {
		t.Fatalf("Expected invalid params error, got %+v", msg.Error)
	}
	if !strings.Contains(msg.Error.Message, "invalid arguments for tool ping") {
		t.Errorf("Error message %q does not carry validation detail", msg.Error.Message)
	}
}

func TestDispatch_ToolsCallInternalErrorHidesDetail(t *testing.T) {
	srv := newTestServer(t)

	raw := `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"fail","arguments":{}}}`

	msg := parseResponse(t, dispatchRaw(t, srv, raw))
	if msg.Error == nil || msg.Error.Code != jsonRPCInternalErrorCode {
		t.Fatalf("Expected internal error, got %+v", msg.Error)
	}
	if msg.Error.Message != "Internal error" {
		t.Errorf("Error message = %q, want %q", msg.Error.Message, "Internal error")
	}
	if strings.Contains(msg.Error.Message, "database exploded") {
		t.Error("Internal detail leaked to the wire")
	}
}

func TestDispatch_ResourcesList(t *testing.T) {
	srv := newTestServer(t)

	msg := parseResponse(t, dispatchRaw(t, srv, `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`))

	var result ListResourcesResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("Failed to parse resources/list result: %v", err)
	}
	if len(result.Resources) != 1 || result.Resources[0].Name != "example.txt" {
		t.Errorf("Resources = %+v, want the example.txt entry", result.Resources)
	}
}

func TestDispatch_PromptsList(t *testing.T) {
	srv := newTestServer(t)

	msg := parseResponse(t, dispatchRaw(t, srv, `{"jsonrpc":"2.0","id":2,"method":"prompts/list"}`))

	var result ListPromptsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("Failed to parse prompts/list result: %v", err)
	}
	if len(result.Prompts) != 1 || result.Prompts[0].Name != "greet" {
		t.Errorf("Prompts = %+v, want the greet entry", result.Prompts)
	}
}

func TestIsNotification(t *testing.T) {
	tests := []struct {
		name string
		msg  JSONRPCMessage
		want bool
	}{
		{
			name: "request with id",
			msg:  JSONRPCMessage{ID: json.RawMessage(`1`), Method: "tools/call"},
			want: false,
		},
		{
			name: "no id",
			msg:  JSONRPCMessage{Method: "tools/call"},
			want: true,
		},
		{
			name: "null id",
			msg:  JSONRPCMessage{ID: json.RawMessage(`null`), Method: "tools/call"},
			want: true,
		},
		{
			name: "notification namespace with id",
			msg:  JSONRPCMessage{ID: json.RawMessage(`5`), Method: "notifications/initialized"},
			want: true,
		},
		{
			name: "bare cancelled with id",
			msg:  JSONRPCMessage{ID: json.RawMessage(`5`), Method: "cancelled"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotification(tt.msg); got != tt.want {
				t.Errorf("isNotification() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecoverID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID string
		wantOK bool
	}{
		{
			name:   "numeric id",
			raw:    `{"id":12,"method":123}`,
			wantID: `12`,
			wantOK: true,
		},
		{
			name:   "string id",
			raw:    `{"id":"abc","method":123}`,
			wantID: `"abc"`,
			wantOK: true,
		},
		{
			name:   "null id",
			raw:    `{"id":null}`,
			wantOK: false,
		},
		{
			name:   "no id",
			raw:    `{"method":"x"}`,
			wantOK: false,
		},
		{
			name:   "garbage",
			raw:    `{{{`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := recoverID(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("recoverID() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK && string(id) != tt.wantID {
				t.Errorf("recoverID() = %s, want %s", id, tt.wantID)
			}
		})
	}
}

func TestRequestLike(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			name: "request",
			raw:  `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			want: true,
		},
		{
			name: "notification",
			raw:  `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			want: false,
		},
		{
			name: "notification namespace with id",
			raw:  `{"jsonrpc":"2.0","id":1,"method":"notifications/initialized"}`,
			want: false,
		},
		{
			name: "bare cancelled with id",
			raw:  `{"jsonrpc":"2.0","id":1,"method":"cancelled"}`,
			want: false,
		},
		{
			name: "garbage",
			raw:  `hello`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestLike(tt.raw); got != tt.want {
				t.Errorf("requestLike(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNewServer_RejectsDuplicateToolNames(t *testing.T) {
	first, err := NewToolHandler(pingTool{})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	second, err := NewToolHandler(pingTool{})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	_, err = NewServer(Info{Name: "dup", Version: "0.0.1"}, nopTransport{},
		WithLogger(testLogger()),
		WithTools(first, second))
	if err == nil {
		t.Fatal("Expected duplicate tool name error")
	}
	if !strings.Contains(err.Error(), "duplicate tool name: ping") {
		t.Errorf("Error = %v, want duplicate tool name error", err)
	}
}

func TestNewServer_RequiresTransport(t *testing.T) {
	if _, err := NewServer(Info{Name: "x", Version: "1"}, nil); err == nil {
		t.Fatal("Expected error for nil transport")
	}
}
