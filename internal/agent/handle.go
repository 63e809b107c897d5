// Package agent spawns ACP agent processes and manages their sessions.
package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/agent/launcher"
	"github.com/acpfactory/acpfactory/internal/agent/registry"
	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/session"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/jsonrpc"
	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// Conn is the full typed surface a handle needs from its agent connection.
type Conn interface {
	session.Connection
	Initialize(ctx context.Context) (*protocol.InitializeResult, error)
	NewSession(ctx context.Context, params *protocol.NewSessionParams) (*protocol.NewSessionResult, error)
}

// Handle is one running agent process with its sessions.
type Handle struct {
	ID     string
	Config *registry.AgentConfig

	cwd     string
	process *launcher.Process
	rpc     *jsonrpc.Client
	conn    Conn
	streams *stream.Registry
	broker  *permissions.Broker
	bus     bus.EventBus
	logger  *logger.Logger

	caps   protocol.AgentCapabilities
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
}

// NewHandle wires an initialized connection into a handle. The process, rpc
// client and cancel func may be nil when the connection is managed elsewhere.
func NewHandle(id string, config *registry.AgentConfig, cwd string, process *launcher.Process, rpc *jsonrpc.Client, conn Conn, streams *stream.Registry, broker *permissions.Broker, eventBus bus.EventBus, caps protocol.AgentCapabilities, cancel context.CancelFunc, log *logger.Logger) *Handle {
	return &Handle{
		ID:       id,
		Config:   config,
		cwd:      cwd,
		process:  process,
		rpc:      rpc,
		conn:     conn,
		streams:  streams,
		broker:   broker,
		bus:      eventBus,
		caps:     caps,
		cancel:   cancel,
		logger:   log.WithAgentID(id),
		sessions: make(map[string]*session.Session),
	}
}

// Capabilities returns the capabilities the agent advertised at initialize.
func (h *Handle) Capabilities() protocol.AgentCapabilities {
	return h.caps
}

// Broker returns the handle's permission broker.
func (h *Handle) Broker() *permissions.Broker {
	return h.broker
}

// Streams returns the handle's session stream registry.
func (h *Handle) Streams() *stream.Registry {
	return h.streams
}

// IsRunning reports whether the agent process is alive.
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return false
	}
	if h.process == nil {
		return true
	}
	return h.process.IsRunning()
}

// NewSession creates a session in the given working directory. An empty cwd
// uses the handle's default.
func (h *Handle) NewSession(ctx context.Context, cwd string, mcpServers []protocol.McpServer) (*session.Session, error) {
	if cwd == "" {
		cwd = h.cwd
	}
	if mcpServers == nil {
		mcpServers = []protocol.McpServer{}
	}

	result, err := h.conn.NewSession(ctx, &protocol.NewSessionParams{Cwd: cwd, McpServers: mcpServers})
	if err != nil {
		return nil, err
	}

	s := session.New(result.SessionID, cwd, mcpServers, h.conn, h.streams, h.broker, result.Modes, h.logger)
	h.track(s)

	h.logger.Info("session created", zap.String("session_id", s.ID()))
	h.publish(ctx, events.SubjectSessionCreated, events.TypeSessionCreated, map[string]interface{}{
		"sessionId": s.ID(),
		"cwd":       cwd,
	})
	return s, nil
}

// LoadSession restores a persisted session. Requires the loadSession
// capability.
func (h *Handle) LoadSession(ctx context.Context, sessionID, cwd string, mcpServers []protocol.McpServer) (*session.Session, error) {
	if !h.caps.LoadSession {
		return nil, errors.UnsupportedCapability("loadSession")
	}
	if cwd == "" {
		cwd = h.cwd
	}
	if mcpServers == nil {
		mcpServers = []protocol.McpServer{}
	}

	result, err := h.conn.LoadSession(ctx, &protocol.LoadSessionParams{
		SessionID:  sessionID,
		Cwd:        cwd,
		McpServers: mcpServers,
	})
	if err != nil {
		return nil, err
	}

	var modes *protocol.SessionModeState
	if result != nil {
		modes = result.Modes
	}
	s := session.New(sessionID, cwd, mcpServers, h.conn, h.streams, h.broker, modes, h.logger)
	h.track(s)

	h.logger.Info("session loaded", zap.String("session_id", sessionID))
	h.publish(ctx, events.SubjectSessionLoaded, events.TypeSessionLoaded, map[string]interface{}{
		"sessionId": sessionID,
		"cwd":       cwd,
	})
	return s, nil
}

// Session returns a tracked session by id.
func (h *Handle) Session(id string) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Sessions returns all tracked sessions.
func (h *Handle) Sessions() []*session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// FlushSession persists a session to disk. Session ids this handle has not
// seen are flushed through a detached wrapper, which works as long as the
// agent still knows the id.
func (h *Handle) FlushSession(ctx context.Context, sessionID string, opts session.FlushOptions) (*protocol.FlushResult, error) {
	s, ok := h.Session(sessionID)
	if !ok {
		s = h.detachedSession(sessionID)
	}

	result, err := s.Flush(ctx, opts)
	if err != nil {
		return nil, err
	}

	if result.Success {
		h.publish(ctx, events.SubjectSessionFlushed, events.TypeSessionFlushed, map[string]interface{}{
			"sessionId": sessionID,
			"filePath":  result.FilePath,
		})
	}
	return result, nil
}

// ForkSession duplicates a session. Requires the unstable fork capability.
//
// An idle, tracked session forks directly. A busy session, an unknown id or
// force=true goes through the flush handshake first so the fork sees
// settled state.
func (h *Handle) ForkSession(ctx context.Context, sessionID string, force bool, opts session.FlushOptions) (*session.Session, error) {
	if !h.caps.SessionCapabilities.Fork {
		return nil, errors.UnsupportedCapability("session/fork")
	}

	source, tracked := h.Session(sessionID)
	needsFlush := force || !tracked || source.IsProcessing()

	if !tracked {
		source = h.detachedSession(sessionID)
	}

	var (
		child *session.Session
		err   error
	)
	if needsFlush {
		child, err = source.ForkWithFlush(ctx, opts)
	} else {
		child, err = source.Fork(ctx)
	}
	if err != nil {
		return nil, err
	}

	h.track(child)

	h.logger.Info("session forked",
		zap.String("source_session_id", sessionID),
		zap.String("child_session_id", child.ID()),
		zap.Bool("flushed", needsFlush))
	h.publish(ctx, events.SubjectSessionForked, events.TypeSessionForked, map[string]interface{}{
		"sourceSessionId": sessionID,
		"childSessionId":  child.ID(),
		"flushed":         needsFlush,
	})
	return child, nil
}

// Close shuts the agent down: sessions stop streaming, the RPC client stops
// and the process is terminated. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*session.Session)
	h.mu.Unlock()

	h.logger.Info("closing agent")

	for id := range sessions {
		h.streams.End(id)
		if h.broker != nil {
			h.broker.CancelSession(id)
		}
	}
	h.streams.EndAll()

	if h.cancel != nil {
		h.cancel()
	}
	if h.rpc != nil {
		h.rpc.Stop()
	}

	var err error
	if h.process != nil {
		err = h.process.Stop()
	}

	h.publish(context.Background(), events.SubjectAgentClosed, events.TypeAgentClosed, map[string]interface{}{
		"agentId": h.ID,
		"agent":   h.Config.ID,
	})
	return err
}

// detachedSession wraps a session id the handle is not tracking, enough for
// the flush and fork paths to operate on it.
func (h *Handle) detachedSession(sessionID string) *session.Session {
	return session.New(sessionID, h.cwd, nil, h.conn, h.streams, h.broker, nil, h.logger)
}

func (h *Handle) track(s *session.Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
}

func (h *Handle) publish(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, subject, bus.NewEvent(eventType, "agent-handle", data)); err != nil {
		h.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
