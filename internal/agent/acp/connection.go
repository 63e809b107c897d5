// Package acp provides the typed RPC surface over a JSON-RPC agent
// connection.
package acp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/pkg/acp/jsonrpc"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// Connection wraps a JSON-RPC client with typed ACP methods. It implements
// the session package's Connection interface.
type Connection struct {
	client *jsonrpc.Client
	logger *logger.Logger
}

// NewConnection creates a typed connection over a started JSON-RPC client.
func NewConnection(client *jsonrpc.Client, log *logger.Logger) *Connection {
	return &Connection{
		client: client,
		logger: log.WithFields(zap.String("component", "acp-connection")),
	}
}

// Initialize performs the protocol handshake and returns the agent's
// capabilities.
func (c *Connection) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientCapabilities: protocol.ClientCapabilities{
			FS: protocol.FileSystemCapability{
				ReadTextFile:  true,
				WriteTextFile: true,
			},
		},
	}

	var result protocol.InitializeResult
	if err := c.call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, err
	}

	c.logger.Info("agent initialized",
		zap.Int("protocol_version", result.ProtocolVersion),
		zap.Bool("load_session", result.AgentCapabilities.LoadSession),
		zap.Bool("fork", result.AgentCapabilities.SessionCapabilities.Fork))
	return &result, nil
}

// NewSession creates a fresh session.
func (c *Connection) NewSession(ctx context.Context, params *protocol.NewSessionParams) (*protocol.NewSessionResult, error) {
	var result protocol.NewSessionResult
	if err := c.call(ctx, protocol.MethodSessionNew, params, &result); err != nil {
		return nil, err
	}
	if result.SessionID == "" {
		return nil, errors.ProtocolError(protocol.MethodSessionNew, fmt.Errorf("agent returned empty session id"))
	}
	return &result, nil
}

// LoadSession restores a persisted session.
func (c *Connection) LoadSession(ctx context.Context, params *protocol.LoadSessionParams) (*protocol.LoadSessionResult, error) {
	var result protocol.LoadSessionResult
	if err := c.call(ctx, protocol.MethodSessionLoad, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ForkSession duplicates a session via the unstable session/fork method.
func (c *Connection) ForkSession(ctx context.Context, params *protocol.ForkSessionParams) (*protocol.ForkSessionResult, error) {
	var result protocol.ForkSessionResult
	if err := c.call(ctx, protocol.MethodSessionFork, params, &result); err != nil {
		return nil, err
	}
	if result.SessionID == "" {
		return nil, errors.ProtocolError(protocol.MethodSessionFork, fmt.Errorf("agent returned empty session id"))
	}
	return &result, nil
}

// Prompt runs one prompt turn. The call blocks until the agent finishes the
// turn; updates stream separately via session/update notifications.
func (c *Connection) Prompt(ctx context.Context, params *protocol.PromptParams) (*protocol.PromptResult, error) {
	var result protocol.PromptResult
	if err := c.call(ctx, protocol.MethodSessionPrompt, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel sends the session/cancel notification.
func (c *Connection) Cancel(sessionID string) error {
	if err := c.client.Notify(protocol.MethodSessionCancel, &protocol.CancelParams{SessionID: sessionID}); err != nil {
		return errors.ProtocolError(protocol.MethodSessionCancel, err)
	}
	return nil
}

// SetSessionMode switches the agent's session mode.
func (c *Connection) SetSessionMode(ctx context.Context, params *protocol.SetSessionModeParams) error {
	return c.call(ctx, protocol.MethodSessionSetMode, params, nil)
}

// Flush asks the agent to persist session state via the _session/flush
// extension.
func (c *Connection) Flush(ctx context.Context, params *protocol.FlushParams) (*protocol.FlushResult, error) {
	var result protocol.FlushResult
	if err := c.call(ctx, protocol.MethodSessionFlush, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Connection) call(ctx context.Context, method string, params, result interface{}) error {
	resp, err := c.client.Call(ctx, method, params)
	if err != nil {
		return errors.ProtocolError(method, err)
	}
	if resp.Error != nil {
		return errors.ProtocolError(method, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errors.ProtocolError(method, fmt.Errorf("failed to decode result: %w", err))
		}
	}
	return nil
}
