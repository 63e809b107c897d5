package agent

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/agent/acp"
	"github.com/acpfactory/acpfactory/internal/agent/credentials"
	"github.com/acpfactory/acpfactory/internal/agent/launcher"
	"github.com/acpfactory/acpfactory/internal/agent/registry"
	acpclient "github.com/acpfactory/acpfactory/internal/client"
	"github.com/acpfactory/acpfactory/internal/common/errors"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
	"github.com/acpfactory/acpfactory/internal/stream"
	"github.com/acpfactory/acpfactory/pkg/acp/jsonrpc"
)

// SpawnOptions controls how an agent is spawned.
type SpawnOptions struct {
	// Cwd is the working directory for the agent process and default for
	// its sessions. Empty means the current directory.
	Cwd string
	// Env adds environment variables on top of the agent's configured set.
	Env map[string]string
	// PermissionMode overrides the factory default for this agent.
	PermissionMode permissions.Mode
	// PermissionCallback is required when PermissionMode is ModeCallback.
	PermissionCallback permissions.Callback
	// InheritCredentials resolves known API keys through the credential
	// provider into the agent's environment.
	InheritCredentials bool
}

// Factory spawns agents from the registry and tracks their handles.
type Factory struct {
	registry    *registry.Registry
	creds       credentials.Provider
	bus         bus.EventBus
	defaultMode permissions.Mode
	logger      *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewFactory creates a factory. creds may be nil to disable credential
// inheritance.
func NewFactory(reg *registry.Registry, creds credentials.Provider, eventBus bus.EventBus, defaultMode permissions.Mode, log *logger.Logger) *Factory {
	return &Factory{
		registry:    reg,
		creds:       creds,
		bus:         eventBus,
		defaultMode: defaultMode,
		logger:      log.WithFields(zap.String("component", "agent-factory")),
		handles:     make(map[string]*Handle),
	}
}

// Registry returns the agent configuration registry.
func (f *Factory) Registry() *registry.Registry {
	return f.registry
}

// Spawn launches the named agent, performs the ACP handshake and returns a
// handle ready to create sessions.
func (f *Factory) Spawn(ctx context.Context, name string, opts SpawnOptions) (*Handle, error) {
	config, err := f.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, errors.BadRequest(fmt.Sprintf("agent %q is disabled", name))
	}

	cwd := opts.Cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return nil, errors.InternalError("failed to resolve working directory", err)
		}
	}

	env, err := f.buildEnv(ctx, opts)
	if err != nil {
		return nil, err
	}

	mode := opts.PermissionMode
	if mode == "" {
		mode = f.defaultMode
	}

	process, err := launcher.Start(config.WithEnv(env), cwd, f.logger)
	if err != nil {
		return nil, errors.InternalError(fmt.Sprintf("failed to launch agent %q", name), err)
	}

	streams := stream.NewRegistry(f.logger)
	broker := permissions.NewBroker(mode, opts.PermissionCallback, streams, f.logger)

	rpc := jsonrpc.NewClient(process.Stdin(), process.Stdout(), f.logger)
	handler := acpclient.NewHandler(streams, broker, nil, f.bus, f.logger)
	handler.Attach(rpc)

	readCtx, cancel := context.WithCancel(context.Background())
	rpc.Start(readCtx)

	conn := acp.NewConnection(rpc, f.logger)
	initResult, err := conn.Initialize(ctx)
	if err != nil {
		cancel()
		rpc.Stop()
		_ = process.Stop()
		return nil, err
	}

	h := NewHandle(process.ID, config, cwd, process, rpc, conn, streams, broker, f.bus, initResult.AgentCapabilities, cancel, f.logger)

	f.mu.Lock()
	f.handles[h.ID] = h
	f.mu.Unlock()

	f.logger.Info("agent spawned",
		zap.String("agent", name),
		zap.String("agent_id", h.ID),
		zap.String("permission_mode", string(mode)))
	f.publish(ctx, events.SubjectAgentSpawned, events.TypeAgentSpawned, map[string]interface{}{
		"agentId": h.ID,
		"agent":   name,
		"cwd":     cwd,
	})

	return h, nil
}

// Adopt tracks a handle that was constructed outside Spawn, for agents
// reached over a connection the factory did not launch.
func (f *Factory) Adopt(h *Handle) {
	f.mu.Lock()
	f.handles[h.ID] = h
	f.mu.Unlock()
}

// Get returns a running handle by instance id.
func (f *Factory) Get(id string) (*Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	return h, ok
}

// Handles returns all tracked handles.
func (f *Factory) Handles() []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*Handle, 0, len(f.handles))
	for _, h := range f.handles {
		out = append(out, h)
	}
	return out
}

// Close shuts down one agent and stops tracking it.
func (f *Factory) Close(id string) error {
	f.mu.Lock()
	h, ok := f.handles[id]
	if ok {
		delete(f.handles, id)
	}
	f.mu.Unlock()

	if !ok {
		return errors.NotFound("agent instance", id)
	}
	return h.Close()
}

// CloseAll shuts down every tracked agent.
func (f *Factory) CloseAll() {
	f.mu.Lock()
	handles := f.handles
	f.handles = make(map[string]*Handle)
	f.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			f.logger.Warn("failed to close agent", zap.String("agent_id", h.ID), zap.Error(err))
		}
	}
}

// buildEnv merges explicit env over resolved credentials.
func (f *Factory) buildEnv(ctx context.Context, opts SpawnOptions) (map[string]string, error) {
	env := make(map[string]string)

	if opts.InheritCredentials && f.creds != nil {
		keys, err := f.creds.ListAvailable(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to list credentials", err)
		}
		for _, key := range keys {
			cred, err := f.creds.GetCredential(ctx, key)
			if err != nil {
				continue
			}
			env[cred.Key] = cred.Value
		}
	}

	for k, v := range opts.Env {
		env[k] = v
	}
	return env, nil
}

func (f *Factory) publish(ctx context.Context, subject, eventType string, data map[string]interface{}) {
	if f.bus == nil {
		return
	}
	if err := f.bus.Publish(ctx, subject, bus.NewEvent(eventType, "agent-factory", data)); err != nil {
		f.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
