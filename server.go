package mcpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// defaultQueueSize bounds the channel between the transport reader and the
// dispatch loop. A full queue blocks the reader; messages are never dropped.
const defaultQueueSize = 32

// internalErrorResponse is the fixed reply for a request the dispatcher
// failed to answer. Requests must never go unanswered; this line is the
// guard of last resort.
const internalErrorResponse = `{"jsonrpc": "2.0", "error": {"code": -32603, "message": "Internal error"}, "id": null}`

// Server serves the MCP tool-invocation protocol over a single transport.
// Its catalogue of tools, resources, and prompts is assembled once at
// construction and immutable afterwards; messages are processed strictly
// one at a time, in arrival order.
type Server struct {
	info      Info
	transport Transport

	logger       *slog.Logger
	instructions string
	queueSize    int

	tools     []ToolHandler
	toolDefs  []Tool
	resources []Resource
	prompts   []Prompt

	capabilities ServerCapabilities
	dispatcher   *dispatcher
}

// ServerOption is a function that configures a server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "mcpd"),
			slog.String("component", "server"),
		)
	}
}

// WithInstructions sets the instructions string returned to clients in the
// initialize result.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithTools registers tool handlers. Tool names must be unique across the
// server; NewServer rejects duplicates.
func WithTools(tools ...ToolHandler) ServerOption {
	return func(s *Server) {
		s.tools = append(s.tools, tools...)
	}
}

// WithResources sets the resources advertised via resources/list.
func WithResources(resources ...Resource) ServerOption {
	return func(s *Server) {
		s.resources = append(s.resources, resources...)
	}
}

// WithPrompts sets the prompts advertised via prompts/list.
func WithPrompts(prompts ...Prompt) ServerOption {
	return func(s *Server) {
		s.prompts = append(s.prompts, prompts...)
	}
}

// WithQueueSize overrides the capacity of the incoming message queue.
func WithQueueSize(size int) ServerOption {
	return func(s *Server) {
		s.queueSize = size
	}
}

// NewServer creates a server for the given transport. The catalogue and
// routing tables are fixed here: registering two tools with the same name
// is an error, and every tool descriptor is cached for tools/list.
func NewServer(info Info, transport Transport, options ...ServerOption) (*Server, error) {
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}

	s := &Server{
		info:      info,
		transport: transport,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.queueSize < 1 {
		s.queueSize = defaultQueueSize
	}
	if s.resources == nil {
		s.resources = []Resource{}
	}
	if s.prompts == nil {
		s.prompts = []Prompt{}
	}

	seen := make(map[string]struct{}, len(s.tools))
	s.toolDefs = make([]Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		def := tool.Def()
		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("duplicate tool name: %s", def.Name)
		}
		seen[def.Name] = struct{}{}
		s.toolDefs = append(s.toolDefs, def)
	}

	s.capabilities = ServerCapabilities{
		Prompts:   &PromptsCapability{},
		Resources: &ResourcesCapability{},
		Tools:     &ToolsCapability{},
	}

	s.dispatcher = &dispatcher{
		logger: s.logger,
		methods: map[string]methodFunc{
			methodInitialize:    s.handleInitialize,
			MethodToolsList:     s.handleToolsList,
			MethodToolsCall:     s.handleToolsCall,
			MethodResourcesList: s.handleResourcesList,
			MethodPromptsList:   s.handlePromptsList,
		},
		notifications: map[string]notificationFunc{
			methodNotificationsInitialized: s.handleInitialized,
			methodNotificationsCancelled:   s.handleCancelled,
			methodCancelled:                s.handleCancelled,
		},
	}

	return s, nil
}

// Run starts the transport and processes messages until the peer stream
// ends, ctx is done, or a fatal transport error occurs. Processing is
// sequential: each message is dispatched and answered before the next one
// is taken, so responses leave in request order.
func (s *Server) Run(ctx context.Context) error {
	messages := make(chan string, s.queueSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(messages)
		if err := s.transport.Start(gctx, messages); err != nil {
			return fmt.Errorf("transport failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case raw, ok := <-messages:
				if !ok {
					return nil
				}
				if err := s.process(gctx, raw); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

func (s *Server) process(ctx context.Context, raw string) error {
	response := s.dispatcher.dispatch(ctx, raw)
	if response == "" {
		if !requestLike(raw) {
			return nil
		}
		s.logger.Error("no response for request-like message", slog.String("message", raw))
		response = internalErrorResponse
	}

	if err := s.transport.Send(ctx, response); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	return nil
}

// requestLike reports whether raw text that produced no response looks like
// a request the peer is waiting on. Notification forms stay silent.
func requestLike(raw string) bool {
	if !strings.Contains(raw, `"id"`) {
		return false
	}
	return !strings.Contains(raw, `"method":"notifications/`) &&
		!strings.Contains(raw, `"method":"cancelled`)
}

func (s *Server) findTool(name string) (ToolHandler, bool) {
	for i := range s.toolDefs {
		if s.toolDefs[i].Name == name {
			return s.tools[i], true
		}
	}
	return nil, false
}

func (s *Server) handleInitialize(_ context.Context, params json.RawMessage) (any, error) {
	var p initializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to parse initialize params: %v", err),
		}
	}

	version := p.ProtocolVersion
	if version == "" {
		version = protocolVersion
	}

	s.logger.Info("session initialized",
		slog.String("clientName", p.ClientInfo.Name),
		slog.String("clientVersion", p.ClientInfo.Version),
		slog.String("protocolVersion", version))

	return initializeResult{
		ProtocolVersion: version,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) handleToolsList(_ context.Context, _ json.RawMessage) (any, error) {
	return ListToolsResult{Tools: s.toolDefs}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to parse tools/call params: %v", err),
		}
	}

	tool, ok := s.findTool(p.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, p.Name)
	}

	result, err := tool.Call(ctx, p.Arguments)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) handleResourcesList(_ context.Context, _ json.RawMessage) (any, error) {
	return ListResourcesResult{Resources: s.resources}, nil
}

func (s *Server) handlePromptsList(_ context.Context, _ json.RawMessage) (any, error) {
	return ListPromptsResult{Prompts: s.prompts}, nil
}

func (s *Server) handleInitialized(_ context.Context, _ json.RawMessage) {
	s.logger.Info("received initialized notification")
}

// handleCancelled logs the cancellation and nothing more. In-flight work
// always runs to completion: processing is sequential, so by the time a
// cancellation is read the request it names is either done or next in line.
func (s *Server) handleCancelled(_ context.Context, params json.RawMessage) {
	var p cancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Error("failed to parse cancellation params", slog.String("err", err.Error()))
		return
	}

	s.logger.Info("received cancellation request",
		slog.String("requestId", string(p.RequestID)),
		slog.String("reason", p.Reason))
}
