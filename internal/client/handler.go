// Package client implements the client side of an ACP connection: routing
// session/update notifications to session streams and answering the agent's
// inbound requests (permissions, filesystem, terminal).
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/jsonrpc"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// Terminal serves the agent's terminal/* requests. Implementations own the
// spawned commands and their output buffers.
type Terminal interface {
	Create(ctx context.Context, params *protocol.CreateTerminalParams) (*protocol.CreateTerminalResult, error)
	Output(ctx context.Context, params *protocol.TerminalParams) (*protocol.TerminalOutputResult, error)
	WaitForExit(ctx context.Context, params *protocol.TerminalParams) (*protocol.WaitForExitResult, error)
	Kill(ctx context.Context, params *protocol.TerminalParams) error
	Release(ctx context.Context, params *protocol.TerminalParams) error
}

// Handler dispatches agent-to-client traffic for one agent connection.
type Handler struct {
	streams  *stream.Registry
	broker   *permissions.Broker
	fs       FileSystem
	terminal Terminal
	bus      bus.EventBus
	logger   *logger.Logger
}

// NewHandler creates a handler. fs may be nil, in which case the local
// filesystem is used.
func NewHandler(streams *stream.Registry, broker *permissions.Broker, fs FileSystem, eventBus bus.EventBus, log *logger.Logger) *Handler {
	if fs == nil {
		fs = OSFileSystem{}
	}
	return &Handler{
		streams: streams,
		broker:  broker,
		fs:      fs,
		bus:     eventBus,
		logger:  log.WithFields(zap.String("component", "client-handler")),
	}
}

// SetTerminal installs a terminal implementation. Without one, terminal
// methods are rejected.
func (h *Handler) SetTerminal(terminal Terminal) {
	h.terminal = terminal
}

// Attach registers the handler on a JSON-RPC client.
func (h *Handler) Attach(client *jsonrpc.Client) {
	client.SetNotificationHandler(h.HandleNotification)
	client.SetRequestHandler(h.HandleRequest)
}

// Streams exposes the session stream registry.
func (h *Handler) Streams() *stream.Registry {
	return h.streams
}

// Broker exposes the permission broker.
func (h *Handler) Broker() *permissions.Broker {
	return h.broker
}

// HandleNotification routes a session/update notification onto the session's
// stream. Unknown notification methods are logged and dropped.
func (h *Handler) HandleNotification(method string, params json.RawMessage) {
	if method != protocol.MethodSessionUpdate {
		h.logger.Warn("unexpected notification", zap.String("method", method))
		return
	}

	var notification protocol.SessionNotification
	if err := json.Unmarshal(params, &notification); err != nil {
		h.logger.Error("failed to decode session update", zap.Error(err))
		return
	}
	if notification.SessionID == "" {
		h.logger.Warn("session update without session id")
		return
	}

	h.streams.Push(notification)
}

// HandleRequest answers requests the agent sends to the client.
func (h *Handler) HandleRequest(ctx context.Context, method string, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	switch method {
	case protocol.MethodRequestPermission:
		return h.handlePermission(ctx, params)
	case protocol.MethodFsReadTextFile:
		return h.handleReadTextFile(ctx, params)
	case protocol.MethodFsWriteTextFile:
		return h.handleWriteTextFile(ctx, params)
	case protocol.MethodTerminalCreate,
		protocol.MethodTerminalOutput,
		protocol.MethodTerminalWaitExit,
		protocol.MethodTerminalKill,
		protocol.MethodTerminalRelease:
		return h.handleTerminal(ctx, method, params)
	default:
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.MethodNotFound,
			Message: fmt.Sprintf("unknown method: %s", method),
		}
	}
}

func (h *Handler) handlePermission(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var req protocol.RequestPermissionParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid permission request params"}
	}

	h.publish(ctx, events.SubjectPermissionRequested, events.TypePermissionRequested, map[string]interface{}{
		"sessionId":  req.SessionID,
		"toolCallId": req.ToolCall.ToolCallID,
	})

	result, err := h.broker.HandleRequest(ctx, &req)
	if err != nil {
		h.logger.WithSessionID(req.SessionID).Error("permission handling failed", zap.Error(err))
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}

	h.publish(ctx, events.SubjectPermissionResolved, events.TypePermissionResolved, map[string]interface{}{
		"sessionId":  req.SessionID,
		"toolCallId": req.ToolCall.ToolCallID,
		"outcome":    result.Outcome.Outcome,
		"optionId":   result.Outcome.OptionID,
	})

	return result, nil
}

func (h *Handler) handleReadTextFile(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var req protocol.ReadTextFileParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid read params"}
	}

	result, err := h.fs.ReadTextFile(ctx, &req)
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ErrCodeResourceNotFound, Message: err.Error()}
	}
	return result, nil
}

func (h *Handler) handleWriteTextFile(ctx context.Context, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	var req protocol.WriteTextFileParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid write params"}
	}

	if err := h.fs.WriteTextFile(ctx, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}
	return struct{}{}, nil
}

func (h *Handler) handleTerminal(ctx context.Context, method string, params json.RawMessage) (interface{}, *jsonrpc.Error) {
	if h.terminal == nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.MethodNotFound,
			Message: fmt.Sprintf("terminal capability not supported: %s", method),
		}
	}

	if method == protocol.MethodTerminalCreate {
		var req protocol.CreateTerminalParams
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid terminal params"}
		}
		result, err := h.terminal.Create(ctx, &req)
		if err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
		}
		return result, nil
	}

	var req protocol.TerminalParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "invalid terminal params"}
	}

	var (
		result interface{}
		err    error
	)
	switch method {
	case protocol.MethodTerminalOutput:
		result, err = h.terminal.Output(ctx, &req)
	case protocol.MethodTerminalWaitExit:
		result, err = h.terminal.WaitForExit(ctx, &req)
	case protocol.MethodTerminalKill:
		result, err = struct{}{}, h.terminal.Kill(ctx, &req)
	case protocol.MethodTerminalRelease:
		result, err = struct{}{}, h.terminal.Release(ctx, &req)
	}
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.InternalError, Message: err.Error()}
	}
	return result, nil
}

func (h *Handler) publish(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, subject, bus.NewEvent(eventType, "client-handler", data)); err != nil {
		h.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
