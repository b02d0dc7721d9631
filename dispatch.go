package mcpd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// methodFunc handles one request method. The returned value is marshaled
// into the response result; a returned error picks the response error code.
type methodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// notificationFunc handles one notification method. Notifications never
// produce output, so there is nothing to return.
type notificationFunc func(ctx context.Context, params json.RawMessage)

// dispatcher routes raw JSON-RPC text to handlers and serializes the reply.
// It holds no per-message state: routing tables are fixed at construction
// and every call is independent.
type dispatcher struct {
	logger        *slog.Logger
	methods       map[string]methodFunc
	notifications map[string]notificationFunc
}

// dispatch processes one raw message and returns the serialized response,
// or the empty string when the message produces no output (notifications,
// undecodable text with no usable id).
func (d *dispatcher) dispatch(ctx context.Context, raw string) string {
	var msg JSONRPCMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		id, ok := recoverID(raw)
		if !ok {
			d.logger.Error("failed to parse message",
				slog.String("message", raw),
				slog.String("err", err.Error()))
			return ""
		}
		return d.respondError(id, JSONRPCError{
			Code:    jsonRPCParseErrorCode,
			Message: "Parse error",
		})
	}

	if isNotification(msg) {
		d.dispatchNotification(ctx, msg)
		return ""
	}

	if msg.Method == "" {
		return d.respondError(msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: "Invalid request",
		})
	}

	fn, ok := d.methods[msg.Method]
	if !ok {
		return d.respondError(msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("Method not found: %s", msg.Method),
		})
	}

	result, err := fn(ctx, msg.Params)
	if err != nil {
		return d.respondHandlerError(msg, err)
	}

	return d.respondResult(msg.ID, result)
}

func (d *dispatcher) dispatchNotification(ctx context.Context, msg JSONRPCMessage) {
	if msg.Method == "" {
		d.logger.Debug("dropping message with no method", slog.String("id", string(msg.ID)))
		return
	}

	fn, ok := d.notifications[msg.Method]
	if !ok {
		d.logger.Debug("ignoring unknown notification", slog.String("method", msg.Method))
		return
	}

	fn(ctx, msg.Params)
}

// respondHandlerError maps a handler error onto the wire. Handlers choose
// precise codes by returning a JSONRPCError; the sentinel and typed errors
// below cover tool lookup and argument failures; everything else becomes a
// generic internal error whose detail goes only to the log.
func (d *dispatcher) respondHandlerError(msg JSONRPCMessage, err error) string {
	var rpcErr JSONRPCError
	if errors.As(err, &rpcErr) {
		return d.respondError(msg.ID, rpcErr)
	}

	if errors.Is(err, ErrToolNotFound) {
		return d.respondError(msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: err.Error(),
		})
	}

	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return d.respondError(msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: argErr.Error(),
		})
	}

	d.logger.Error("request handler failed",
		slog.String("method", msg.Method),
		slog.String("err", err.Error()))

	return d.respondError(msg.ID, JSONRPCError{
		Code:    jsonRPCInternalErrorCode,
		Message: "Internal error",
	})
}

func (d *dispatcher) respondResult(id json.RawMessage, result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("failed to marshal result", slog.String("err", err.Error()))
		return d.respondError(id, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: "Internal error",
		})
	}

	return d.respond(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  data,
	})
}

func (d *dispatcher) respondError(id json.RawMessage, rpcErr JSONRPCError) string {
	return d.respond(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &rpcErr,
	})
}

func (d *dispatcher) respond(msg JSONRPCMessage) string {
	data, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("failed to marshal response", slog.String("err", err.Error()))
		return ""
	}
	return string(data)
}

// isNotification reports whether the message must not be answered. Messages
// without an id are notifications by definition; the notification method
// namespace, and the bare cancelled form some clients send, are treated the
// same even when an id is present.
func isNotification(msg JSONRPCMessage) bool {
	if !hasID(msg.ID) {
		return true
	}
	return strings.HasPrefix(msg.Method, "notifications/") || msg.Method == methodCancelled
}

// hasID reports whether a raw id is usable for correlation. A JSON null id
// counts as absent.
func hasID(id json.RawMessage) bool {
	if len(id) == 0 {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(id), []byte("null"))
}

// recoverID pulls the request id out of text whose envelope failed to
// decode, so the parse error can still be correlated. Text with no usable
// id stays unanswered.
func recoverID(raw string) (json.RawMessage, bool) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, false
	}
	return probe.ID, hasID(probe.ID)
}
