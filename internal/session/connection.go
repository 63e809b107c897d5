// Package session implements prompt orchestration and the flush/fork
// lifecycle for ACP sessions.
package session

import (
	"context"
	"time"

	"github.com/acpfactory/acpfactory/pkg/acp/protocol"
)

// Connection is the typed RPC surface a session needs from its agent
// connection.
type Connection interface {
	// Prompt sends session/prompt and blocks until the turn ends.
	Prompt(ctx context.Context, params *protocol.PromptParams) (*protocol.PromptResult, error)

	// Cancel sends the session/cancel notification. It does not wait for
	// the turn to actually stop.
	Cancel(sessionID string) error

	// SetSessionMode sends session/set_mode.
	SetSessionMode(ctx context.Context, params *protocol.SetSessionModeParams) error

	// LoadSession sends session/load to restore a persisted session.
	LoadSession(ctx context.Context, params *protocol.LoadSessionParams) (*protocol.LoadSessionResult, error)

	// ForkSession sends the unstable session/fork method.
	ForkSession(ctx context.Context, params *protocol.ForkSessionParams) (*protocol.ForkSessionResult, error)

	// Flush sends the _session/flush extension method.
	Flush(ctx context.Context, params *protocol.FlushParams) (*protocol.FlushResult, error)
}

// FlushOptions controls the flush handshake.
type FlushOptions struct {
	// IdleTimeout bounds how long to wait for an in-flight prompt to finish
	// before cancelling it.
	IdleTimeout time.Duration
	// PersistTimeout bounds how long the agent may take to write state.
	PersistTimeout time.Duration
	// SkipRestart leaves the session unloaded after a successful flush.
	SkipRestart bool
}

// DefaultFlushOptions returns the standard flush timeouts.
func DefaultFlushOptions() FlushOptions {
	return FlushOptions{
		IdleTimeout:    5 * time.Second,
		PersistTimeout: 5 * time.Second,
	}
}

func (o *FlushOptions) applyDefaults() {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
}
